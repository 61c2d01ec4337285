// Package index provides k-nearest-neighbor search over unit embeddings.
//
// Flat scans every vector and is exact. IVF clusters vectors with k-means
// and scans only the cells nearest the query, trading recall for speed.
// Both order hits by ascending distance with ties broken by ascending id,
// so a given index answers a given query identically every time.
//
// Remote backends live in subpackages and satisfy the same Index interface.
package index
