package types //nolint:revive // types is a valid package name

import (
	"regexp"
	"testing"
)

func TestVersion_Format(t *testing.T) {
	semverRegex := regexp.MustCompile(`^\d+\.\d+\.\d+(-[a-zA-Z0-9.]+)?$`)
	if !semverRegex.MatchString(Version) {
		t.Errorf("Version %q is not a valid semver", Version)
	}
}

func TestActorStatus_Failed(t *testing.T) {
	if ActorDone.Failed() {
		t.Error("done should not count as failed")
	}
	for _, s := range []ActorStatus{ActorError, ActorPending, ActorMissing} {
		if !s.Failed() {
			t.Errorf("%s should count as failed", s)
		}
	}
}
