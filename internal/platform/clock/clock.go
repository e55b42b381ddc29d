package clock

import (
	"sync"
	"time"
)

// Clock es la fuente de "ahora". El motor de acceso nunca lee el reloj
// directamente; el borde HTTP lo convierte a Unix y lo pasa en cada llamada.
type Clock interface {
	Now() time.Time
}

// Func adapta una función a Clock.
type Func func() time.Time

func (f Func) Now() time.Time { return f() }

// Monotonic nunca devuelve un instante anterior al último entregado,
// aunque el reloj de sistema retroceda (NTP, cambios manuales).
type Monotonic struct {
	mu   sync.Mutex
	src  func() time.Time
	last time.Time
}

func NewMonotonic(src func() time.Time) *Monotonic {
	if src == nil {
		src = time.Now
	}
	return &Monotonic{src: src}
}

func (m *Monotonic) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.src()
	if t.Before(m.last) {
		return m.last
	}
	m.last = t
	return t
}

// Unix convierte a segundos Unix sin signo; instantes previos a 1970 valen 0.
func Unix(t time.Time) uint64 {
	s := t.Unix()
	if s < 0 {
		return 0
	}
	return uint64(s)
}
