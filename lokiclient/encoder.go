package lokiclient

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/gogo/protobuf/proto"
	"github.com/golang/snappy"
	"github.com/grafana/loki/pkg/push"
)

// JSONEncoder serializes log streams to the JSON push payload.
type JSONEncoder struct{}

func (e JSONEncoder) encode(s []Stream) ([]byte, error) {
	body := struct {
		Streams []Stream `json:"streams"`
	}{Streams: s}
	enc, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize Loki payload: %w", err)
	}
	return enc, nil
}

func (e JSONEncoder) headers() map[string]string {
	return map[string]string{
		"Content-Type": "application/json",
	}
}

// SnappyProtoEncoder serializes log streams to a snappy-compressed protobuf
// push payload, the same format promtail and the Loki distributor speak.
type SnappyProtoEncoder struct{}

func (e SnappyProtoEncoder) encode(s []Stream) ([]byte, error) {
	body := push.PushRequest{
		Streams: make([]push.Stream, 0, len(s)),
	}

	for _, str := range s {
		entries := make([]push.Entry, 0, len(str.Values))
		for _, sample := range str.Values {
			entries = append(entries, push.Entry{
				Timestamp: sample.T,
				Line:      sample.V,
			})
		}
		body.Streams = append(body.Streams, push.Stream{
			Labels:  labelsMapToString(str.Stream),
			Entries: entries,
		})
	}

	buf, err := proto.Marshal(&body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal Loki payload to proto: %w", err)
	}
	buf = snappy.Encode(nil, buf)
	return buf, nil
}

func (e SnappyProtoEncoder) headers() map[string]string {
	return map[string]string{
		"Content-Type":     "application/x-protobuf",
		"Content-Encoding": "snappy",
	}
}

// labelsMapToString renders a label set in the `{foo="bar", baz="qux"}` form
// the Loki proto payload expects, with keys in sorted order.
func labelsMapToString(ls map[string]string) string {
	keys := make([]string, 0, len(ls))
	for k := range ls {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(strconv.Quote(ls[k]))
	}
	b.WriteByte('}')
	return b.String()
}
