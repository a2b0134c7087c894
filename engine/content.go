package engine

import (
	"bytes"
	"sort"
	"strconv"

	"github.com/wudi/pdfkit/ir/semantic"
)

// pageContent concatenates the content streams of p into the body of a form
// XObject. Streams are separated by a newline so that operators at stream
// boundaries stay apart.
func pageContent(p *semantic.Page) []byte {
	var buf bytes.Buffer
	for i, cs := range p.Contents {
		if i > 0 {
			buf.WriteByte('\n')
		}
		if len(cs.RawBytes) > 0 {
			buf.Write(cs.RawBytes)
			continue
		}
		encodeOperations(&buf, cs.Operations)
	}
	return buf.Bytes()
}

func encodeOperations(buf *bytes.Buffer, ops []semantic.Operation) {
	for _, op := range ops {
		for _, o := range op.Operands {
			encodeOperand(buf, o)
			buf.WriteByte(' ')
		}
		buf.WriteString(op.Operator)
		buf.WriteByte('\n')
	}
}

func encodeOperand(buf *bytes.Buffer, o semantic.Operand) {
	switch v := o.(type) {
	case semantic.NumberOperand:
		// content streams have no exponent notation
		buf.WriteString(strconv.FormatFloat(v.Value, 'f', -1, 64))
	case semantic.NameOperand:
		buf.WriteByte('/')
		buf.WriteString(v.Value)
	case semantic.StringOperand:
		encodeString(buf, v.Value)
	case semantic.ArrayOperand:
		buf.WriteByte('[')
		for i, it := range v.Values {
			if i > 0 {
				buf.WriteByte(' ')
			}
			encodeOperand(buf, it)
		}
		buf.WriteByte(']')
	case semantic.DictOperand:
		buf.WriteString("<<")
		encodeDictEntries(buf, v)
		buf.WriteString(">>")
	case semantic.InlineImageOperand:
		buf.WriteString("BI ")
		encodeDictEntries(buf, v.Image)
		buf.WriteString(" ID ")
		buf.Write(v.Data)
		buf.WriteString("\nEI")
	default:
		buf.WriteString("null")
	}
}

func encodeDictEntries(buf *bytes.Buffer, d semantic.DictOperand) {
	keys := make([]string, 0, len(d.Values))
	for k := range d.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteByte('/')
		buf.WriteString(k)
		buf.WriteByte(' ')
		encodeOperand(buf, d.Values[k])
	}
}

func encodeString(buf *bytes.Buffer, s []byte) {
	buf.WriteByte('(')
	for _, c := range s {
		switch c {
		case '\\', '(', ')':
			buf.WriteByte('\\')
			buf.WriteByte(c)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		default:
			if c < 0x20 || c >= 0x7f {
				buf.WriteByte('\\')
				buf.WriteString(strconv.FormatInt(int64(c)|0o1000, 8)[1:])
				continue
			}
			buf.WriteByte(c)
		}
	}
	buf.WriteByte(')')
}
