// Package driven defines the driven-side port of the hexagon: the Storage
// interface every backend adapter implements.
//
// Collaborators (auth, chat history, document chunks) are handed one
// connected Storage and use only the contract operations. No collaborator
// depends on backend-specific behaviour.
package driven
