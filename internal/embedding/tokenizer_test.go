package embedding

import (
	"testing"
)

func TestHashTokenizer_Tokenize(t *testing.T) {
	tok := &HashTokenizer{ContextLength: 10}
	ids := tok.Tokenize("a Main battle-tank")
	if len(ids) != 10 {
		t.Fatalf("len(ids)=%d", len(ids))
	}
	if ids[0] != startOfText {
		t.Errorf("expected start token, got %d", ids[0])
	}
	// a, main, battle, -, tank
	if ids[6] != endOfText {
		t.Errorf("expected end token at 6, got %v", ids)
	}
	for i := 1; i < 6; i++ {
		if ids[i] < firstWordID || ids[i] >= startOfText {
			t.Errorf("word id %d out of range: %d", i, ids[i])
		}
	}
	for i := 7; i < 10; i++ {
		if ids[i] != 0 {
			t.Errorf("expected padding at %d, got %d", i, ids[i])
		}
	}
}

func TestHashTokenizer_truncates(t *testing.T) {
	tok := &HashTokenizer{ContextLength: 4}
	ids := tok.Tokenize("one two three four five")
	if len(ids) != 4 || ids[3] != endOfText {
		t.Errorf("got %v", ids)
	}
}

func TestHashTokenizer_caseInsensitive(t *testing.T) {
	tok := &HashTokenizer{ContextLength: 77}
	a := tok.Tokenize("Fighter Jet")
	b := tok.Tokenize("fighter jet")
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("token %d differs: %d vs %d", i, a[i], b[i])
		}
	}
}

func TestSplitWords(t *testing.T) {
	words := SplitWords("  a  b, c  ")
	if len(words) != 4 {
		t.Errorf("expected 4 words, got %v", words)
	}
	if SplitWords("") != nil {
		t.Error("empty string should return nil")
	}
}

func TestHashTokenizer_endTokenIsArgmax(t *testing.T) {
	tok := &HashTokenizer{ContextLength: 77}
	ids := tok.Tokenize("soviet main battle tank with autoloader and composite armour")
	argmax := 0
	for i, id := range ids {
		if id > ids[argmax] {
			argmax = i
		}
	}
	if ids[argmax] != endOfText {
		t.Errorf("argmax id = %d at %d, want end token", ids[argmax], argmax)
	}
	for i := 1; i < argmax; i++ {
		if ids[i] == endOfText {
			t.Errorf("end token repeated at %d", i)
		}
	}
}
