package serial

import (
	"bufio"
	"bytes"
	"io"
)

// maxLineSize 为单行的最大长度
const maxLineSize = 64 * 1024

// LineReader 从 io.Reader 按行读取接收器输出，跳过空行。
// ReadLine 会阻塞直到读取到下一条非空行或遇到 io.EOF / 错误。
type LineReader struct {
	s *bufio.Scanner
}

// NewLineReader 创建一个 LineReader，对给定的 io.Reader 进行封装
func NewLineReader(r io.Reader) *LineReader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 4096), maxLineSize)
	return &LineReader{s: s}
}

// ReadLine 返回下一条非空行（已去除首尾空白），返回的切片归调用方所有
func (r *LineReader) ReadLine() ([]byte, error) {
	for r.s.Scan() {
		line := bytes.TrimSpace(r.s.Bytes())
		if len(line) == 0 {
			continue
		}
		return append([]byte(nil), line...), nil
	}
	if err := r.s.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}
