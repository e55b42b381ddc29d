package codec

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Los registros del ledger se guardan en CBOR determinístico (RFC 8949 §4.2):
// el mismo valor siempre produce los mismos bytes, sin importar el orden
// de inserción de mapas.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: cbor encoder init: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Campos desconocidos se ignoran para poder agregar atributos
		// sin migrar registros viejos.
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
	}.DecMode()
	if err != nil {
		panic("codec: cbor decoder init: " + err.Error())
	}
}

func Marshal(v any) ([]byte, error) {
	b, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec: marshal: %w", err)
	}
	return b, nil
}

func Unmarshal(data []byte, v any) error {
	if err := decMode.Unmarshal(data, v); err != nil {
		return fmt.Errorf("codec: unmarshal: %w", err)
	}
	return nil
}
