package ledger

import (
	"context"
	"errors"
	"net/url"
	"strings"
)

var (
	ErrReadOnly = errors.New("ledger: read-only transaction")
)

// Tx es la vista de una transacción sobre el ledger clave/valor.
// Dentro de una misma transacción las lecturas ven las escrituras previas.
type Tx interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error

	// Scan devuelve las claves que empiezan con prefix, ordenadas.
	Scan(ctx context.Context, prefix string) ([]string, error)
}

// Ledger ejecuta fn dentro de una transacción atómica.
// Si fn devuelve error, ninguna escritura de esa llamada se aplica.
type Ledger interface {
	Update(ctx context.Context, fn func(tx Tx) error) error
	View(ctx context.Context, fn func(tx Tx) error) error
}

// Key arma una clave compuesta. Cada parte se escapa, así un "/"
// dentro de un identificador no rompe la estructura de la clave.
func Key(parts ...string) string {
	escaped := make([]string, 0, len(parts))
	for _, p := range parts {
		escaped = append(escaped, url.PathEscape(p))
	}
	return strings.Join(escaped, "/")
}

// Prefix devuelve el prefijo para Scan sobre todas las claves bajo parts.
func Prefix(parts ...string) string {
	return Key(parts...) + "/"
}

// SplitKey invierte Key.
func SplitKey(key string) ([]string, error) {
	raw := strings.Split(key, "/")
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		s, err := url.PathUnescape(p)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
