package tasks

import "strings"

var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "but": true, "by": true, "can": true, "do": true, "for": true,
	"from": true, "how": true, "i": true, "in": true, "is": true, "it": true,
	"me": true, "my": true, "of": true, "on": true, "or": true, "please": true,
	"so": true, "that": true, "the": true, "this": true, "to": true,
	"was": true, "we": true, "what": true, "when": true, "which": true,
	"will": true, "with": true, "would": true, "you": true, "your": true,
}

// ExtractKeywords derives a short human-readable name from free text by
// keeping the first maxWords non-stop-words in order.
func ExtractKeywords(text string, maxWords int) string {
	if maxWords <= 0 {
		maxWords = 4
	}
	fields := strings.Fields(strings.ToLower(text))
	seen := make(map[string]bool, maxWords)
	out := make([]string, 0, maxWords)
	for _, f := range fields {
		w := strings.Trim(f, ".,!?:;\"'()[]{}`")
		if w == "" || stopWords[w] || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
		if len(out) == maxWords {
			break
		}
	}
	return strings.Join(out, " ")
}

// nameSource picks the text a derived task name is extracted from.
func nameSource(content Content) string {
	switch content.Kind {
	case ContentMessage:
		return content.Message
	case ContentStructuredResponse:
		return content.StructuredResponse
	case ContentFunctionCall:
		if content.FunctionCall != nil {
			return content.FunctionCall.Name
		}
	case ContentFunctionResult:
		return content.FunctionResult
	case ContentUploadedFiles:
		return strings.Join(content.UploadedFiles, " ")
	}
	return ""
}
