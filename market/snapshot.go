package market

import "time"

// Source 快照来源。
type Source string

const (
	SourceNone   Source = ""
	SourceFetch  Source = "fetch"
	SourceStream Source = "stream"
)

// Snapshot 是"当前已知世界状态"的整体替换单元，不保留历史。
// Records 在创建后视为只读，替换时整体换掉而不是原地修改。
type Snapshot struct {
	Records    []PriceRecord
	Seq        uint64
	Source     Source
	ReceivedAt time.Time
}

// NewSnapshot 按 symbol 去重：后出现的记录覆盖先出现的，位置保持首次出现的位置。
func NewSnapshot(records []PriceRecord, source Source, receivedAt time.Time) Snapshot {
	out := make([]PriceRecord, 0, len(records))
	index := make(map[string]int, len(records))
	for _, r := range records {
		if i, ok := index[r.Symbol]; ok {
			out[i] = r
			continue
		}
		index[r.Symbol] = len(out)
		out = append(out, r)
	}
	return Snapshot{
		Records:    out,
		Source:     source,
		ReceivedAt: receivedAt,
	}
}

// Empty 是否尚未收到任何数据。
func (s Snapshot) Empty() bool {
	return s.Source == SourceNone
}

// Len 记录数。
func (s Snapshot) Len() int {
	return len(s.Records)
}

// Lookup 按 symbol 查找记录。
func (s Snapshot) Lookup(symbol string) (PriceRecord, bool) {
	for _, r := range s.Records {
		if r.Symbol == symbol {
			return r, true
		}
	}
	return PriceRecord{}, false
}

// Clone 复制记录切片，供只读访问者使用。
func (s Snapshot) Clone() Snapshot {
	cp := s
	if s.Records != nil {
		cp.Records = make([]PriceRecord, len(s.Records))
		copy(cp.Records, s.Records)
	}
	return cp
}
