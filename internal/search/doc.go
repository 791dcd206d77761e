// Package search fuses lexical and semantic rankings into one result
// list using weighted reciprocal rank fusion. When the semantic score
// distribution looks unreliable for a query, the semantic weight is
// reduced and lexical matches dominate.
package search
