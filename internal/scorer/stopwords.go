package scorer

// stopwords is the exact token-filtering list used by both FTS query
// construction and Grouper/Retry tokenization, grounded verbatim on
// server.py's STOPWORDS frozenset.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "but": true, "by": true, "for": true, "from": true,
	"had": true, "has": true, "have": true, "he": true, "her": true,
	"his": true, "i": true, "in": true, "is": true, "it": true, "its": true,
	"my": true, "not": true, "of": true, "on": true, "or": true, "our": true,
	"she": true, "so": true, "that": true, "the": true, "their": true,
	"them": true, "then": true, "there": true, "these": true, "they": true,
	"this": true, "to": true, "us": true, "was": true, "we": true,
	"what": true, "when": true, "which": true, "who": true, "will": true,
	"with": true, "you": true, "your": true,
}

// IsStopword reports whether a lowercase token is a stopword.
func IsStopword(token string) bool {
	return stopwords[token]
}
