package nut

import "sort"

// offsetIndex 是各段长度的前缀和，用于把全局偏移映射回段下标
// ends[i] 是第 i 段结束位置 (不含)
type offsetIndex struct {
	ends []int64
}

func newOffsetIndex(lengths []int64) offsetIndex {
	ends := make([]int64, len(lengths))
	var sum int64
	for i, l := range lengths {
		sum += l
		ends[i] = sum
	}
	return offsetIndex{ends: ends}
}

// total 返回所有段的总长度
func (x offsetIndex) total() int64 {
	if len(x.ends) == 0 {
		return 0
	}
	return x.ends[len(x.ends)-1]
}

// lookup 返回包含 off 的段下标
// 长度为 0 的段永远不会被命中
func (x offsetIndex) lookup(off int64) (int, bool) {
	if off < 0 || off >= x.total() {
		return 0, false
	}
	i := sort.Search(len(x.ends), func(i int) bool { return x.ends[i] > off })
	return i, true
}

// bounds 返回第 i 段的 [start, end)
func (x offsetIndex) bounds(i int) (int64, int64) {
	var start int64
	if i > 0 {
		start = x.ends[i-1]
	}
	return start, x.ends[i]
}
