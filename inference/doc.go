// Package inference generates assistant responses from an assembled
// context window. The response pipeline treats the generator as a black
// box behind the Generator contract; failures map onto the shared error
// taxonomy so the workflow engine can classify them.
package inference
