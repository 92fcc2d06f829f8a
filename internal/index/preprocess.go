package index

import (
	"strings"
	"unicode"

	"github.com/blevesearch/go-porterstemmer"
)

// stopwords is the fixed english stopword list applied to both indexed text
// and queries. Must never diverge between build and query time.
var stopwords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`a about above after again against all am an and any are aren't as at
be because been before being below between both but by can't cannot could couldn't did didn't do does
doesn't doing don't down during each few for from further had hadn't has hasn't have haven't having he
her here hers herself him himself his how i if in into is isn't it its itself let's me more most mustn't
my myself no nor not of off on once only or other ought our ours ourselves out over own same shan't she
should shouldn't so some such than that the their theirs them themselves then there these they this those
through to too under until up very was wasn't we were weren't what when where which while who whom why
with won't would wouldn't you your yours yourself yourselves`) {
		stopwords[w] = struct{}{}
	}
}

// Preprocess normalizes text into the token stream used by the lexical index:
// lowercase, split on non-letter runs, drop stopwords, Porter-stem each token.
// The exact same function runs at index build and at query time.
func Preprocess(text string) []string {
	text = strings.ToLower(text)
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, skip := stopwords[f]; skip {
			continue
		}
		stemmed := porterstemmer.StemString(f)
		if stemmed == "" {
			continue
		}
		tokens = append(tokens, stemmed)
	}
	return tokens
}
