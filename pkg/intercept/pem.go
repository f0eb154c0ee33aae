package intercept

import (
	"bytes"
	"encoding/pem"
)

func pemEncodeCert(der []byte) []byte {
	var buf bytes.Buffer
	_ = pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: der})
	return buf.Bytes()
}
