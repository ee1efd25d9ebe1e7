package realtime

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/dostum-ai/dostum-backend/internal/providers/llm"
)

func testLogEntry() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func TestResponderFragmentsAtSentenceBoundaries(t *testing.T) {
	tests := []struct {
		name      string
		chunks    []string
		wantFrags []string
		wantFull  string
	}{
		{
			name:      "two sentences in separate chunks",
			chunks:    []string{"Çok iyiyim! ", "Sen nasılsın?"},
			wantFrags: []string{"Çok iyiyim!", "Sen nasılsın?"},
			wantFull:  "Çok iyiyim! Sen nasılsın?",
		},
		{
			name:      "sentence split across chunks",
			chunks:    []string{"Bugün hava ", "çok güzel. ", "Dışarı çık", "malısın!"},
			wantFrags: []string{"Bugün hava çok güzel.", "Dışarı çıkmalısın!"},
			wantFull:  "Bugün hava çok güzel. Dışarı çıkmalısın!",
		},
		{
			name:      "trailing remainder without punctuation",
			chunks:    []string{"Tamam. ", "Sonra görüşürüz"},
			wantFrags: []string{"Tamam.", "Sonra görüşürüz"},
			wantFull:  "Tamam. Sonra görüşürüz",
		},
		{
			name:      "ellipsis ends a fragment",
			chunks:    []string{"Bilmiyorum… ", "Belki."},
			wantFrags: []string{"Bilmiyorum…", "Belki."},
			wantFull:  "Bilmiyorum… Belki.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResponder(&llm.Mock{Chunks: tt.chunks}, testLogEntry())

			var frags []Fragment
			full, err := r.Stream(context.Background(), "prompt", func(f Fragment) error {
				frags = append(frags, f)
				return nil
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if full != tt.wantFull {
				t.Fatalf("full text %q, want %q", full, tt.wantFull)
			}
			if len(frags) != len(tt.wantFrags) {
				t.Fatalf("got %d fragments (%v), want %d", len(frags), frags, len(tt.wantFrags))
			}
			for i, f := range frags {
				if f.Index != i {
					t.Fatalf("fragment %d carries index %d", i, f.Index)
				}
				if f.Text != tt.wantFrags[i] {
					t.Fatalf("fragment %d text %q, want %q", i, f.Text, tt.wantFrags[i])
				}
			}
		})
	}
}

func TestResponderFailsWholeUtteranceWithoutTokens(t *testing.T) {
	boom := errors.New("model down")
	r := NewResponder(&llm.Mock{FailBeforeFirst: boom}, testLogEntry())

	emitted := 0
	_, err := r.Stream(context.Background(), "prompt", func(Fragment) error {
		emitted++
		return nil
	})
	if !errors.Is(err, ErrNoTokens) {
		t.Fatalf("got %v, want ErrNoTokens", err)
	}
	if emitted != 0 {
		t.Fatalf("emitted %d fragments on a dead model", emitted)
	}
}

func TestResponderDeliversFragmentsBeforeMidStreamError(t *testing.T) {
	boom := errors.New("stream cut")
	r := NewResponder(&llm.Mock{
		Chunks:      []string{"İlk cümle. ", "İkinci cümle başladı"},
		TrailingErr: boom,
	}, testLogEntry())

	var frags []Fragment
	full, err := r.Stream(context.Background(), "prompt", func(f Fragment) error {
		frags = append(frags, f)
		return nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want the stream error", err)
	}
	if len(frags) != 2 {
		t.Fatalf("got %d fragments, want 2 (completed sentence plus remainder)", len(frags))
	}
	if frags[0].Text != "İlk cümle." {
		t.Fatalf("first fragment %q", frags[0].Text)
	}
	if full != "İlk cümle. İkinci cümle başladı" {
		t.Fatalf("full text %q", full)
	}
}

func TestResponderStopsOnEmitError(t *testing.T) {
	r := NewResponder(&llm.Mock{Chunks: []string{"Bir. ", "İki. ", "Üç."}}, testLogEntry())

	stop := errors.New("client gone")
	count := 0
	_, err := r.Stream(context.Background(), "prompt", func(Fragment) error {
		count++
		return stop
	})
	if !errors.Is(err, stop) {
		t.Fatalf("got %v, want emit error", err)
	}
	if count != 1 {
		t.Fatalf("emit called %d times after failing, want 1", count)
	}
}
