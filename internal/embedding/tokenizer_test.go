package embedding

import (
	"reflect"
	"testing"
)

func TestHashTokenizer_Encode(t *testing.T) {
	enc := HashTokenizer{}.Encode("Hello, world", 8)
	if len(enc.IDs) != 8 || len(enc.AttentionMask) != 8 || len(enc.TypeIDs) != 8 {
		t.Fatalf("lengths = %d/%d/%d", len(enc.IDs), len(enc.AttentionMask), len(enc.TypeIDs))
	}
	if enc.IDs[0] != clsTokenID {
		t.Errorf("first id = %d, want CLS", enc.IDs[0])
	}
	// hello , world
	if enc.IDs[4] != sepTokenID {
		t.Errorf("id after three tokens = %d, want SEP", enc.IDs[4])
	}
	wantMask := []int64{1, 1, 1, 1, 1, 0, 0, 0}
	if !reflect.DeepEqual(enc.AttentionMask, wantMask) {
		t.Errorf("mask = %v, want %v", enc.AttentionMask, wantMask)
	}
	for i := 1; i <= 3; i++ {
		if enc.IDs[i] < firstWordID || enc.IDs[i] >= DefaultVocabSize {
			t.Errorf("token %d id %d outside vocabulary", i, enc.IDs[i])
		}
	}
}

func TestHashTokenizer_CaseInsensitive(t *testing.T) {
	a := HashTokenizer{}.Encode("Attention", 4)
	b := HashTokenizer{}.Encode("attention", 4)
	if !reflect.DeepEqual(a.IDs, b.IDs) {
		t.Errorf("ids differ: %v vs %v", a.IDs, b.IDs)
	}
}

func TestHashTokenizer_Truncates(t *testing.T) {
	enc := HashTokenizer{VocabSize: 5000}.Encode("a b c d e f g h i j k l", 5)
	if len(enc.IDs) != 5 {
		t.Fatalf("len = %d", len(enc.IDs))
	}
	if enc.IDs[4] != sepTokenID {
		t.Errorf("last slot = %d, want SEP", enc.IDs[4])
	}
	for _, m := range enc.AttentionMask {
		if m != 1 {
			t.Errorf("mask = %v, want all ones", enc.AttentionMask)
			break
		}
	}
	for i := 1; i < 4; i++ {
		if enc.IDs[i] >= 5000 {
			t.Errorf("id %d not below vocab size", enc.IDs[i])
		}
	}
}

func TestSplitTokens(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"  a  b\tc\n ", []string{"a", "b", "c"}},
		{"BERT-base (v2)", []string{"bert", "-", "base", "(", "v2", ")"}},
		{"", nil},
		{"   ", nil},
	}
	for _, tt := range tests {
		if got := SplitTokens(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("SplitTokens(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
