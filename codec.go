// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package serverfn

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

// Encoding names
const (
	EncodingJSON       = "json"
	EncodingMsgpack    = "msgpack"
	EncodingGetJSON    = "getjson"
	EncodingGetMsgpack = "getmsgpack"
)

// DefaultEncoding is used by Define when no encoding is given
const DefaultEncoding = EncodingJSON

// Codec encodes arguments and results for one encoding scheme.
// Decode(Encode(v)) must reproduce v for every supported value.
type Codec interface {
	Name() string
	ContentType() string
	Encode(v interface{}) ([]byte, error)
	Decode(data []byte, v interface{}) error
}

// JSONCodec is a JSON-based codec
type JSONCodec struct{}

func (JSONCodec) Name() string        { return EncodingJSON }
func (JSONCodec) ContentType() string { return "application/json" }

func (JSONCodec) Encode(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// Decode rejects trailing content after the first value.
func (JSONCodec) Decode(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("json: trailing content")
	}
	return nil
}

// MsgpackCodec is a MessagePack codec
type MsgpackCodec struct{}

func (MsgpackCodec) Name() string        { return EncodingMsgpack }
func (MsgpackCodec) ContentType() string { return "application/msgpack" }

func (MsgpackCodec) Encode(v interface{}) ([]byte, error) {
	return msgpack.Marshal(v)
}

// Decode rejects trailing content after the first value.
func (MsgpackCodec) Decode(data []byte, v interface{}) error {
	r := bytes.NewReader(data)
	if err := msgpack.NewDecoder(r).Decode(v); err != nil {
		return err
	}
	if r.Len() > 0 {
		return fmt.Errorf("msgpack: %d bytes of trailing content", r.Len())
	}
	return nil
}

// getCodec marks an encoding whose calls are idempotent reads: the http
// transport issues them as GET so responses can be cached.
type getCodec struct {
	Codec
}

func (c getCodec) Name() string  { return "get" + c.Codec.Name() }
func (getCodec) Cacheable() bool { return true }

var (
	codecsMu sync.RWMutex
	codecs   = map[string]Codec{
		EncodingJSON:       JSONCodec{},
		EncodingMsgpack:    MsgpackCodec{},
		EncodingGetJSON:    getCodec{JSONCodec{}},
		EncodingGetMsgpack: getCodec{MsgpackCodec{}},
	}
)

// RegisterCodec makes c available under c.Name(). A later registration
// under the same name replaces the earlier one.
func RegisterCodec(c Codec) {
	codecsMu.Lock()
	defer codecsMu.Unlock()
	codecs[c.Name()] = c
}

// LookupCodec returns the codec registered under name
func LookupCodec(name string) (Codec, bool) {
	codecsMu.RLock()
	defer codecsMu.RUnlock()
	c, ok := codecs[name]
	return c, ok
}

// AvailableEncodings returns the sorted names of all registered codecs
func AvailableEncodings() []string {
	codecsMu.RLock()
	defer codecsMu.RUnlock()
	names := make([]string, 0, len(codecs))
	for name := range codecs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Cacheable reports whether calls using the named encoding may be issued as GET.
func Cacheable(name string) bool {
	c, ok := LookupCodec(name)
	if !ok {
		return false
	}
	cc, ok := c.(interface{ Cacheable() bool })
	return ok && cc.Cacheable()
}

// envelopeCodec frames transport headers; it is not selectable per function.
var envelopeCodec Codec = MsgpackCodec{}
