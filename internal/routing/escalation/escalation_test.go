package escalation

import (
	"testing"
	"time"

	"signalhub/internal/domain"
)

func TestSessionManagerEscalateAndExpiry(t *testing.T) {
	mgr := NewSessionManager(30 * time.Minute)
	clock := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	mgr.now = func() time.Time { return clock }

	esc, err := mgr.Escalate("s1", domain.TierLarge, 0, "debugging a gnarly issue")
	if err != nil {
		t.Fatalf("Escalate: %v", err)
	}
	if got := esc.ExpiresAt.Sub(esc.CreatedAt); got != 30*time.Minute {
		t.Errorf("default duration = %v, want 30m", got)
	}

	t.Run("active within window", func(t *testing.T) {
		clock = clock.Add(29 * time.Minute)
		got, ok := mgr.Active("s1")
		if !ok {
			t.Fatal("escalation not active at 29m")
		}
		if got.Model != domain.TierLarge {
			t.Errorf("model = %s, want large", got.Model)
		}
	})

	t.Run("expired after window", func(t *testing.T) {
		clock = clock.Add(2 * time.Minute) // now 31m in
		if _, ok := mgr.Active("s1"); ok {
			t.Error("escalation still active at 31m")
		}
		if mgr.Len() != 0 {
			t.Error("expired session not swept on read")
		}
	})

	t.Run("empty session id rejected", func(t *testing.T) {
		if _, err := mgr.Escalate("", domain.TierLarge, 0, ""); err == nil {
			t.Error("want error for empty session id")
		}
	})
}

func TestSessionManagerClear(t *testing.T) {
	mgr := NewSessionManager(time.Hour)
	mgr.Escalate("s1", domain.TierMedium, 0, "")
	mgr.Clear("s1")
	if _, ok := mgr.Active("s1"); ok {
		t.Error("escalation survived Clear")
	}
}

func TestParseInlineHint(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		wantTier  domain.ModelTier
		wantText  string
		wantFound bool
	}{
		{"leading hint", "@large design the schema", domain.TierLarge, "design the schema", true},
		{"embedded hint", "please @small list files", domain.TierSmall, "please list files", true},
		{"case insensitive", "@MEDIUM explain this", domain.TierMedium, "explain this", true},
		{"legacy spelling", "@opus prove it", domain.TierLarge, "prove it", true},
		{"hint only", "@large", "", "@large", false},
		{"hint with blank rest", "@small   ", "", "@small   ", false},
		{"no hint", "just a question", "", "just a question", false},
		{"email is not a hint", "mail me@example.com please", "", "mail me@example.com please", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tier, text, found := parseInlineHint(tt.text)
			if found != tt.wantFound {
				t.Fatalf("found = %v, want %v", found, tt.wantFound)
			}
			if found && tier != tt.wantTier {
				t.Errorf("tier = %s, want %s", tier, tt.wantTier)
			}
			if text != tt.wantText {
				t.Errorf("text = %q, want %q", text, tt.wantText)
			}
		})
	}
}

func TestResolvePrecedence(t *testing.T) {
	mgr := NewSessionManager(time.Hour)
	layer := NewLayer(mgr, true)
	mgr.Escalate("s1", domain.TierMedium, 0, "session pin")

	t.Run("explicit beats session and inline", func(t *testing.T) {
		q := domain.Query{Text: "@small do this", PreferredModel: domain.TierLarge}
		o, text := layer.Resolve(q, "s1")
		if o == nil || o.Source != domain.OverrideExplicit || o.Model != domain.TierLarge {
			t.Fatalf("override = %+v, want explicit large", o)
		}
		if text != q.Text {
			t.Errorf("explicit override should not strip the hint, text = %q", text)
		}
	})

	t.Run("session beats inline", func(t *testing.T) {
		q := domain.Query{Text: "@small do this"}
		o, _ := layer.Resolve(q, "s1")
		if o == nil || o.Source != domain.OverrideSession || o.Model != domain.TierMedium {
			t.Fatalf("override = %+v, want session medium", o)
		}
	})

	t.Run("inline fires alone", func(t *testing.T) {
		q := domain.Query{Text: "@small do this"}
		o, text := layer.Resolve(q, "other-session")
		if o == nil || o.Source != domain.OverrideInline || o.Model != domain.TierSmall {
			t.Fatalf("override = %+v, want inline small", o)
		}
		if text != "do this" {
			t.Errorf("stripped text = %q, want %q", text, "do this")
		}
	})

	t.Run("no override", func(t *testing.T) {
		o, _ := layer.Resolve(domain.Query{Text: "plain question"}, "")
		if o != nil {
			t.Errorf("override = %+v, want nil", o)
		}
	})

	t.Run("inline hints disabled", func(t *testing.T) {
		quiet := NewLayer(NewSessionManager(time.Hour), false)
		o, _ := quiet.Resolve(domain.Query{Text: "@small do this"}, "")
		if o != nil {
			t.Errorf("override = %+v, want nil with hints disabled", o)
		}
	})
}

func TestLayerCounts(t *testing.T) {
	mgr := NewSessionManager(time.Hour)
	layer := NewLayer(mgr, true)
	mgr.Escalate("s1", domain.TierMedium, 0, "")

	layer.Resolve(domain.Query{PreferredModel: domain.TierLarge, Text: "q"}, "")
	layer.Resolve(domain.Query{Text: "q"}, "s1")
	layer.Resolve(domain.Query{Text: "@small q"}, "")
	layer.Resolve(domain.Query{Text: "plain"}, "")

	counts := layer.Counts()
	if counts[domain.OverrideExplicit] != 1 || counts[domain.OverrideSession] != 1 || counts[domain.OverrideInline] != 1 {
		t.Errorf("counts = %v, want 1 each", counts)
	}
}
