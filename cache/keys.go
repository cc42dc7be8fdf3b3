package cache

import (
	"strings"

	"github.com/longanisha/Mahidol-Forum-sub000/sessions"
)

// Namespace prefixes every key this module owns. A purge removes exactly the
// keys under it and nothing else the host may keep in the same store.
const Namespace = "forum.auth."

const (
	SessionKey     = Namespace + "session"
	TabKey         = Namespace + "tab"
	DispositionKey = Namespace + "disposition"
	profilePrefix  = Namespace + "profile."
)

func ProfileKey(identity sessions.Identity) string {
	return profilePrefix + identity.String()
}

func InNamespace(key string) bool {
	return strings.HasPrefix(key, Namespace)
}
