package eventpipe

import (
	"bytes"
	"encoding/gob"
)

type encoderBuf struct {
	buf *bytes.Buffer
	enc *gob.Encoder
}

func gobEncoder() encoderBuf {
	buf := &bytes.Buffer{}
	return encoderBuf{buf: buf, enc: gob.NewEncoder(buf)}
}

func gobDecode(data []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}
