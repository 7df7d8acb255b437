// Package model defines the shared data types of the memory store:
// memories, audit entries, search results and per-user statistics.
//
// The types here are persistence-agnostic; the on-disk representation
// (compression, embedding encoding) lives in the store package.
package model
