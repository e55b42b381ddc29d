package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"clinical-access-control/internal/ports/ledger"
)

// Ledger es un ledger clave/valor en memoria. Update toma el lock exclusivo
// durante toda la transacción, así las llamadas quedan serializadas.
type Ledger struct {
	mu   sync.RWMutex
	data map[string][]byte
}

var _ ledger.Ledger = (*Ledger)(nil)

func NewLedger() *Ledger {
	return &Ledger{data: make(map[string][]byte)}
}

func (l *Ledger) Update(ctx context.Context, fn func(tx ledger.Tx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx := &memTx{base: l.data, writes: map[string]write{}}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for k, w := range tx.writes {
		if w.deleted {
			delete(l.data, k)
			continue
		}
		l.data[k] = w.value
	}
	return nil
}

func (l *Ledger) View(ctx context.Context, fn func(tx ledger.Tx) error) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return fn(&memTx{base: l.data, readOnly: true})
}

// Len es para tests: cantidad de claves persistidas.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.data)
}

type write struct {
	value   []byte
	deleted bool
}

// memTx acumula escrituras en writes; base no se toca hasta el commit.
type memTx struct {
	base     map[string][]byte
	writes   map[string]write
	readOnly bool
}

func (t *memTx) Get(_ context.Context, key string) ([]byte, bool, error) {
	if w, ok := t.writes[key]; ok {
		if w.deleted {
			return nil, false, nil
		}
		return clone(w.value), true, nil
	}
	v, ok := t.base[key]
	if !ok {
		return nil, false, nil
	}
	return clone(v), true, nil
}

func (t *memTx) Set(_ context.Context, key string, value []byte) error {
	if t.readOnly {
		return ledger.ErrReadOnly
	}
	t.writes[key] = write{value: clone(value)}
	return nil
}

func (t *memTx) Remove(_ context.Context, key string) error {
	if t.readOnly {
		return ledger.ErrReadOnly
	}
	t.writes[key] = write{deleted: true}
	return nil
}

func (t *memTx) Scan(_ context.Context, prefix string) ([]string, error) {
	seen := map[string]struct{}{}
	for k := range t.base {
		if strings.HasPrefix(k, prefix) {
			seen[k] = struct{}{}
		}
	}
	for k, w := range t.writes {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if w.deleted {
			delete(seen, k)
			continue
		}
		seen[k] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

func clone(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
