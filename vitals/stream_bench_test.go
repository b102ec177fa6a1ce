package vitals

import (
	"bytes"
	"testing"

	"github.com/tmaxmax/go-sse"
)

func BenchmarkStreamRead(b *testing.B) {
	frame := []byte("id: 12\ndata: {\"type\":\"vital-reading-update\",\"SYS\":120,\"DIA\":80}\n\n")
	stream := bytes.Repeat(frame, 64)
	b.ReportAllocs()
	b.SetBytes(int64(len(frame)))
	for index := 0; index < b.N; index += 64 {
		frames := 0
		for _, err := range sse.Read(bytes.NewReader(stream), nil) {
			if err != nil {
				b.Fatalf("read: %v", err)
			}
			frames++
		}
		if frames != 64 {
			b.Fatalf("read %d frames", frames)
		}
	}
}
