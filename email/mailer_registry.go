package email

import (
	"sort"
	"sync"
)

var (
	mailersMu sync.RWMutex
	mailers   = make(map[string]Mailer)
)

// RegisterMailer makes a mail provider available by the provided name.
// If RegisterMailer is called twice with the same name or if mailer is nil,
// it panics.
func RegisterMailer(name string, m Mailer) {
	mailersMu.Lock()
	defer mailersMu.Unlock()
	if m == nil {
		panic("email: RegisterMailer mailer is nil")
	}
	if _, dup := mailers[name]; dup {
		panic("email: RegisterMailer called twice for mailer " + name)
	}
	mailers[name] = m
}

// for tests only
func UnregisterAllMailers() {
	mailersMu.Lock()
	defer mailersMu.Unlock()
	mailers = make(map[string]Mailer)
}

// Mailers returns a sorted list of the names of the registered mailers.
func Mailers() []string {
	mailersMu.RLock()
	defer mailersMu.RUnlock()
	list := make([]string, 0, len(mailers))
	for name := range mailers {
		list = append(list, name)
	}
	sort.Strings(list)
	return list
}

func GetMailer(name string) Mailer {
	mailersMu.RLock()
	defer mailersMu.RUnlock()
	if m, ok := mailers[name]; ok {
		return m
	}
	return nil
}
