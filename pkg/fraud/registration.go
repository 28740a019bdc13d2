package fraud

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/trang393934/angelaithutrang-sub004/pkg/contracts"
)

type registration struct {
	actorID string
	at      time.Time
}

// RegistrationDetector flags bursts of sign-ups from one IP and families of
// look-alike email addresses.
type RegistrationDetector struct {
	window  time.Duration
	minBulk int

	mu     sync.Mutex
	byIP   map[string][]registration
	byStem map[string][]registration
}

func NewRegistrationDetector(window time.Duration) *RegistrationDetector {
	return &RegistrationDetector{
		window:  window,
		minBulk: 3,
		byIP:    make(map[string][]registration),
		byStem:  make(map[string][]registration),
	}
}

// EmailStem reduces an address to the mailbox it most likely reaches:
// plus-tags, dots and trailing digits are dropped from the local part.
func EmailStem(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	at := strings.LastIndexByte(email, '@')
	if at <= 0 {
		return ""
	}
	local, domain := email[:at], email[at+1:]
	if i := strings.IndexByte(local, '+'); i >= 0 {
		local = local[:i]
	}
	local = strings.ReplaceAll(local, ".", "")
	local = strings.TrimRightFunc(local, unicode.IsDigit)
	if local == "" {
		return ""
	}
	return local + "@" + domain
}

func (d *RegistrationDetector) add(idx map[string][]registration, key string, r registration) []registration {
	kept := idx[key][:0]
	for _, e := range idx[key] {
		if r.at.Sub(e.at) <= d.window && e.actorID != r.actorID {
			kept = append(kept, e)
		}
	}
	kept = append(kept, r)
	idx[key] = kept
	return append([]registration(nil), kept...)
}

func (d *RegistrationDetector) cluster(members []registration, at time.Time, detail string) []contracts.Signal {
	if len(members) < d.minBulk {
		return nil
	}
	strength := 0.5 + 0.1*float64(len(members)-d.minBulk)
	sort.Slice(members, func(i, j int) bool { return members[i].actorID < members[j].actorID })
	out := make([]contracts.Signal, 0, len(members))
	for _, m := range members {
		out = append(out, signal(m.actorID, contracts.SignalRegistrationCluster, strength, at, detail))
	}
	return out
}

// ObserveRegistration records a new profile and returns signals for every
// member of a cluster it completes or extends.
func (d *RegistrationDetector) ObserveRegistration(p contracts.TrustProfile) []contracts.Signal {
	r := registration{actorID: p.ActorID, at: p.CreatedAt}
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []contracts.Signal
	if p.RegistrationIP != "" {
		members := d.add(d.byIP, p.RegistrationIP, r)
		out = append(out, d.cluster(members, p.CreatedAt,
			fmt.Sprintf("%d registrations from one IP within %s", len(members), d.window))...)
	}
	if stem := EmailStem(p.Email); stem != "" {
		members := d.add(d.byStem, stem, r)
		out = append(out, d.cluster(members, p.CreatedAt,
			fmt.Sprintf("%d look-alike email addresses", len(members)))...)
	}
	return out
}
