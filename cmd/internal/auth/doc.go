// Package auth validates the credentials a connection presents in its connect request.
//
// Nodes and operators authenticate with PASETO v4.public tokens issued by `cowork token issue`.
// Operators may instead present the console password, verified against an Argon2id hash.
// The gateway narrows the resulting grant to the scopes the connection asked for.
package auth
