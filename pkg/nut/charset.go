package nut

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

// 一个字符归属于它第一个字节所在的段。
// 跨越段边界的多字节字符只计一次，计在前一段。

// countChars 统计每段的字符数
// content 是各段拼接后的内容，ends 是字节前缀和
func countChars(content []byte, ends offsetIndex, segs [][]byte, charset string) ([]int64, error) {
	if charset == "" {
		return countUTF8(content, ends), nil
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, fmt.Errorf("unknown charset %q: %w", charset, err)
	}
	if name, _ := htmlindex.Name(enc); name == "utf-8" {
		return countUTF8(content, ends), nil
	}
	return countDecoded(enc, segs)
}

func countUTF8(content []byte, ends offsetIndex) []int64 {
	counts := make([]int64, len(ends.ends))
	seg := 0
	for p := 0; p < len(content); {
		for int64(p) >= ends.ends[seg] {
			seg++
		}
		_, size := utf8.DecodeRune(content[p:])
		counts[seg]++
		p += size
	}
	return counts
}

// countDecoded 逐段解码，段尾不完整的字节带到下一段一起解码
// owner 记录带过来的字节来自哪一段，中间隔着空段也不会记错
func countDecoded(enc encoding.Encoding, segs [][]byte) ([]int64, error) {
	dec := enc.NewDecoder()
	counts := make([]int64, len(segs))
	dst := make([]byte, 4096)

	var carry []byte
	owner := -1
	for i, seg := range segs {
		src := make([]byte, 0, len(carry)+len(seg))
		src = append(src, carry...)
		src = append(src, seg...)
		straddling := len(carry) > 0
		atEOF := i == len(segs)-1

		for len(src) > 0 {
			nDst, nSrc, err := dec.Transform(dst, src, atEOF)
			n := int64(utf8.RuneCount(dst[:nDst]))
			if straddling && n > 0 {
				counts[owner]++
				n--
				straddling = false
			}
			counts[i] += n
			src = src[nSrc:]

			if errors.Is(err, transform.ErrShortDst) {
				continue
			}
			if errors.Is(err, transform.ErrShortSrc) {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("decode segment %d: %w", i, err)
			}
		}
		if !straddling {
			owner = i
		}
		carry = src
	}
	return counts, nil
}
