package tree

import "unicode/utf8"

// Segment is a run of text that either matched the query or did not.
type Segment struct {
	Text  string
	Match bool
}

// Highlight splits text into alternating matched and unmatched segments
// using the same case folding as Matches. Concatenating the segments gives
// text back unchanged. An empty query yields a single unmatched segment.
func Highlight(text, q string) []Segment {
	if text == "" {
		return nil
	}
	if q == "" {
		return []Segment{{Text: text}}
	}

	var segs []Segment
	plain := 0
	for i := 0; i < len(text); {
		if n := prefixFold(text[i:], q); n > 0 {
			if plain < i {
				segs = append(segs, Segment{Text: text[plain:i]})
			}
			segs = append(segs, Segment{Text: text[i : i+n], Match: true})
			i += n
			plain = i
			continue
		}
		_, size := utf8.DecodeRuneInString(text[i:])
		i += size
	}
	if plain < len(text) {
		segs = append(segs, Segment{Text: text[plain:]})
	}
	return segs
}
