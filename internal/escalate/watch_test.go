package escalate

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

func TestWatch_ReloadsOnWrite(t *testing.T) {
	t.Parallel()

	path := writePolicy(t, validPolicyYAML)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *PolicySet, 1)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, log.Nop(), func(ps *PolicySet) {
			select {
			case reloaded <- ps:
			default:
			}
		})
	}()

	// Give the watcher a beat to register before rewriting.
	time.Sleep(50 * time.Millisecond)

	updated := `
default:
  tiers:
    - target: secondary-oncall
      channel: slack
      after: 1m
`
	if err := os.WriteFile(path, []byte(updated), 0o600); err != nil {
		t.Fatalf("rewrite policy: %v", err)
	}

	select {
	case ps := <-reloaded:
		if ps.Default.Tiers[0].Target != "secondary-oncall" {
			t.Errorf("reloaded target = %q", ps.Default.Tiers[0].Target)
		}
		if ps.Default.Tiers[0].After != time.Minute {
			t.Errorf("reloaded after = %v", ps.Default.Tiers[0].After)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("reload never observed")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not stop on context cancel")
	}
}

func TestWatch_KeepsPreviousOnInvalidReload(t *testing.T) {
	t.Parallel()

	path := writePolicy(t, validPolicyYAML)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *PolicySet, 4)
	go func() {
		_ = Watch(ctx, path, log.Nop(), func(ps *PolicySet) { changes <- ps })
	}()
	time.Sleep(50 * time.Millisecond)

	// Broken YAML must not produce an onChange call.
	if err := os.WriteFile(path, []byte("{{{"), 0o600); err != nil {
		t.Fatalf("rewrite policy: %v", err)
	}
	select {
	case ps := <-changes:
		t.Fatalf("onChange called for invalid policy: %+v", ps)
	case <-time.After(300 * time.Millisecond):
	}

	// A later valid write recovers.
	if err := os.WriteFile(path, []byte(validPolicyYAML), 0o600); err != nil {
		t.Fatalf("rewrite policy: %v", err)
	}
	select {
	case ps := <-changes:
		if err := ps.Validate(); err != nil {
			t.Errorf("recovered policy invalid: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("recovery reload never observed")
	}
}

func TestWatch_SurvivesAtomicReplace(t *testing.T) {
	t.Parallel()

	path := writePolicy(t, validPolicyYAML)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *PolicySet, 4)
	go func() {
		_ = Watch(ctx, path, log.Nop(), func(ps *PolicySet) { changes <- ps })
	}()
	time.Sleep(50 * time.Millisecond)

	// Write-to-temp-then-rename replaces the watched inode, the save
	// strategy most editors and config management tools use.
	replace := func(target string) {
		t.Helper()
		content := `
default:
  tiers:
    - target: ` + target + `
      channel: slack
      after: 1m
`
		tmp := path + ".tmp"
		if err := os.WriteFile(tmp, []byte(content), 0o600); err != nil {
			t.Fatalf("write temp policy: %v", err)
		}
		if err := os.Rename(tmp, path); err != nil {
			t.Fatalf("rename policy: %v", err)
		}
	}
	// One inode swap can surface as several events, each reloading the
	// same content, so drain until the wanted target shows up.
	expect := func(target string) {
		t.Helper()
		deadline := time.After(5 * time.Second)
		for {
			select {
			case ps := <-changes:
				if ps.Default.Tiers[0].Target == target {
					return
				}
			case <-deadline:
				t.Fatalf("reload of %q never observed", target)
			}
		}
	}

	replace("secondary-oncall")
	expect("secondary-oncall")

	// A second replace proves the watch outlived the first inode swap.
	time.Sleep(50 * time.Millisecond)
	replace("team-lead")
	expect("team-lead")
}

func TestWatch_MissingFile(t *testing.T) {
	t.Parallel()

	err := Watch(context.Background(), "/nonexistent/policies.yaml", log.Nop(), func(*PolicySet) {})
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}
