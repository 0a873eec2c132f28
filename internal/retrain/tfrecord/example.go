// Package tfrecord writes and reads TFRecord files holding tf.train.Example messages with an
// "image" bytes feature and a "label" int64 feature.
package tfrecord

import (
	"errors"
	"fmt"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the tf.train.Example family of messages.
const (
	exampleFeatures  protowire.Number = 1
	featuresFeature  protowire.Number = 1
	mapEntryKey      protowire.Number = 1
	mapEntryValue    protowire.Number = 2
	featureBytesList protowire.Number = 1
	featureInt64List protowire.Number = 3
	listValue        protowire.Number = 1
	imageFeatureName                  = "image"
	labelFeatureName                  = "label"
)

// Example is the image/label pair stored in each record.
type Example struct {
	Image []byte
	Label int64
}

// Marshal encodes e as a serialized tf.train.Example.
func (e Example) Marshal() []byte {
	features := map[string][]byte{
		imageFeatureName: bytesFeature(e.Image),
		labelFeatureName: int64Feature(e.Label),
	}
	names := make([]string, 0, len(features))
	for name := range features {
		names = append(names, name)
	}
	sort.Strings(names)

	var fs []byte
	for _, name := range names {
		var entry []byte
		entry = protowire.AppendTag(entry, mapEntryKey, protowire.BytesType)
		entry = protowire.AppendString(entry, name)
		entry = protowire.AppendTag(entry, mapEntryValue, protowire.BytesType)
		entry = protowire.AppendBytes(entry, features[name])

		fs = protowire.AppendTag(fs, featuresFeature, protowire.BytesType)
		fs = protowire.AppendBytes(fs, entry)
	}

	var out []byte
	out = protowire.AppendTag(out, exampleFeatures, protowire.BytesType)
	out = protowire.AppendBytes(out, fs)
	return out
}

func bytesFeature(v []byte) []byte {
	var list []byte
	list = protowire.AppendTag(list, listValue, protowire.BytesType)
	list = protowire.AppendBytes(list, v)

	var f []byte
	f = protowire.AppendTag(f, featureBytesList, protowire.BytesType)
	return protowire.AppendBytes(f, list)
}

func int64Feature(v int64) []byte {
	var packed []byte
	packed = protowire.AppendVarint(packed, uint64(v))

	var list []byte
	list = protowire.AppendTag(list, listValue, protowire.BytesType)
	list = protowire.AppendBytes(list, packed)

	var f []byte
	f = protowire.AppendTag(f, featureInt64List, protowire.BytesType)
	return protowire.AppendBytes(f, list)
}

// UnmarshalExample decodes a serialized tf.train.Example produced by Marshal or by TensorFlow.
func UnmarshalExample(b []byte) (Example, error) {
	var e Example
	var sawImage, sawLabel bool
	err := eachField(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		if num != exampleFeatures || typ != protowire.BytesType {
			return nil
		}
		return eachField(v, func(num protowire.Number, typ protowire.Type, entry []byte) error {
			if num != featuresFeature || typ != protowire.BytesType {
				return nil
			}
			name, feature, err := decodeMapEntry(entry)
			if err != nil {
				return err
			}
			switch name {
			case imageFeatureName:
				values, err := decodeBytesList(feature)
				if err != nil {
					return err
				}
				if len(values) > 0 {
					e.Image = values[0]
					sawImage = true
				}
			case labelFeatureName:
				values, err := decodeInt64List(feature)
				if err != nil {
					return err
				}
				if len(values) > 0 {
					e.Label = values[0]
					sawLabel = true
				}
			}
			return nil
		})
	})
	if err != nil {
		return Example{}, err
	}
	if !sawImage || !sawLabel {
		return Example{}, errors.New("tfrecord: example lacks image or label feature")
	}
	return e, nil
}

func decodeMapEntry(b []byte) (string, []byte, error) {
	var name string
	var value []byte
	err := eachField(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case mapEntryKey:
			name = string(v)
		case mapEntryValue:
			value = v
		}
		return nil
	})
	return name, value, err
}

func decodeBytesList(feature []byte) ([][]byte, error) {
	var values [][]byte
	err := eachField(feature, func(num protowire.Number, typ protowire.Type, list []byte) error {
		if num != featureBytesList || typ != protowire.BytesType {
			return nil
		}
		return eachField(list, func(num protowire.Number, typ protowire.Type, v []byte) error {
			if num == listValue && typ == protowire.BytesType {
				values = append(values, append([]byte(nil), v...))
			}
			return nil
		})
	})
	return values, err
}

func decodeInt64List(feature []byte) ([]int64, error) {
	var values []int64
	err := eachField(feature, func(num protowire.Number, typ protowire.Type, list []byte) error {
		if num != featureInt64List || typ != protowire.BytesType {
			return nil
		}
		b := list
		for len(b) > 0 {
			n, t, l := protowire.ConsumeTag(b)
			if l < 0 {
				return protowire.ParseError(l)
			}
			b = b[l:]
			switch {
			case n == listValue && t == protowire.BytesType:
				packed, l := protowire.ConsumeBytes(b)
				if l < 0 {
					return protowire.ParseError(l)
				}
				b = b[l:]
				for len(packed) > 0 {
					v, l := protowire.ConsumeVarint(packed)
					if l < 0 {
						return protowire.ParseError(l)
					}
					values = append(values, int64(v))
					packed = packed[l:]
				}
			case n == listValue && t == protowire.VarintType:
				v, l := protowire.ConsumeVarint(b)
				if l < 0 {
					return protowire.ParseError(l)
				}
				values = append(values, int64(v))
				b = b[l:]
			default:
				l := protowire.ConsumeFieldValue(n, t, b)
				if l < 0 {
					return protowire.ParseError(l)
				}
				b = b[l:]
			}
		}
		return nil
	})
	return values, err
}

// eachField calls fn for every length-delimited field of b and skips the others.
// fn receives nil v for non length-delimited fields.
func eachField(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("tfrecord: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		if typ == protowire.BytesType {
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("tfrecord: bad field %d: %w", num, protowire.ParseError(n))
			}
			if err := fn(num, typ, v); err != nil {
				return err
			}
			b = b[n:]
			continue
		}
		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return fmt.Errorf("tfrecord: bad field %d: %w", num, protowire.ParseError(n))
		}
		b = b[n:]
	}
	return nil
}
