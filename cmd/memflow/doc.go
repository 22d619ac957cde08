// Command memflow runs the conversation memory service: the HTTP
// request surface, the workflow engine, and the background
// consolidation pipeline in one process.
package main
