package storage

import "testing"

func TestEmbeddingEncoding(t *testing.T) {
	in := []float32{0, 1.5, -2.25, 3e-8}
	out, err := DecodeEmbedding(EncodeEmbedding(in))
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != len(in) {
		t.Fatalf("len = %d", len(out))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("[%d] = %v, want %v", i, out[i], in[i])
		}
	}
	if _, err := DecodeEmbedding([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated blob")
	}
}
