package timelinepb

import (
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"
)

// FromMap 把 JSON 形式的 map 轉成 Struct.
func FromMap(m map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("轉換為 Struct 失敗: %w", err)
	}
	return s, nil
}

// ToMap 把 Struct 轉回 map；nil 回傳空 map.
func ToMap(s *structpb.Struct) map[string]any {
	if s == nil {
		return map[string]any{}
	}
	return s.AsMap()
}

// String 讀取字串欄位.
func String(s *structpb.Struct, key string) string {
	if s == nil {
		return ""
	}
	if v, ok := s.GetFields()[key]; ok {
		return v.GetStringValue()
	}
	return ""
}

// Number 讀取數字欄位.
func Number(s *structpb.Struct, key string) (float64, bool) {
	if s == nil {
		return 0, false
	}
	v, ok := s.GetFields()[key]
	if !ok {
		return 0, false
	}
	n, isNum := v.GetKind().(*structpb.Value_NumberValue)
	if !isNum {
		return 0, false
	}
	return n.NumberValue, true
}

// List 讀取由物件組成的陣列欄位.
func List(s *structpb.Struct, key string) []map[string]any {
	if s == nil {
		return nil
	}
	v, ok := s.GetFields()[key]
	if !ok {
		return nil
	}
	values := v.GetListValue().GetValues()
	out := make([]map[string]any, 0, len(values))
	for _, item := range values {
		if st := item.GetStructValue(); st != nil {
			out = append(out, st.AsMap())
		}
	}
	return out
}

// Object 讀取物件欄位.
func Object(s *structpb.Struct, key string) map[string]any {
	if s == nil {
		return nil
	}
	if v, ok := s.GetFields()[key]; ok {
		if st := v.GetStructValue(); st != nil {
			return st.AsMap()
		}
	}
	return nil
}
