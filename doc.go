// Package codepatch provides functionality for patching loaded program code
// before it is executed.
//
// APIs are separated into subpackages, and documented accordingly.
// The search package locates literal byte patterns, the patch package
// overwrites bytes relative to each match, and the loader package ties
// the two to a patch store and a table of built-in rules.
//
// For scripting convenience, "OrExit" functions and methods are provided.
// Any errors encountered by these functions are treated as fatal. In such
// cases, an exit handler function is invoked.
package codepatch
