package protocol

import (
	"testing"

	"netmodule/message"
	"netmodule/registry"
)

// 场景1: 叶子类型
func BenchmarkEncodeInt32(b *testing.B) {
	msg := message.NewInt32(42)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := Encode(msg); err != nil {
			b.Fatal(err)
		}
	}
}

// 场景2: 嵌套泛型
func BenchmarkDecodeNestedPair(b *testing.B) {
	data, err := Encode(message.NewPair(
		message.NewTypedList(registry.Of(message.Int32Kind), message.NewInt32(1), message.NewInt32(2)),
		message.NewSingle(message.NewString("bench")),
	))
	if err != nil {
		b.Fatal(err)
	}
	b.SetBytes(int64(len(data)))
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Decode(data); err != nil {
			b.Fatal(err)
		}
	}
}
