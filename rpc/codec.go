// Copyright (c) 2019-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: MPL-2.0

package rpc

import (
	"strconv"
	"strings"
	"time"

	"github.com/capsule/capsuled"
	"github.com/capsule/capsuled/data"
)

// Dates travel as ISO-8601 at millisecond resolution. The codec is
// UTC-only on output; offsets on input are converted.
const dateLayout = "2006-01-02T15:04:05.000Z07:00"

func FormatDate(d data.Date) string {
	return d.Time().UTC().Format("2006-01-02T15:04:05.000") + "Z"
}

func ParseDate(s string) (data.Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return data.Date{}, capsuled.ErrProtocol.New("cannot parse date %q", s)
	}
	return data.NewDate(t), nil
}

// WriteValue emits one typed value. Strings and binaries are length
// prefixed; the length counts bytes after utf-8 encoding.
func (f *Frame) WriteValue(v data.Value) error {
	switch val := v.(type) {
	case data.String:
		b := []byte(string(val))
		if err := f.WriteLine("s" + strconv.Itoa(len(b))); err != nil {
			return err
		}
		if err := f.WriteBytes(b); err != nil {
			return err
		}
		return f.WriteBytes([]byte{'\n'})
	case data.Blob:
		if err := f.WriteLine("x" + strconv.Itoa(len(val))); err != nil {
			return err
		}
		if err := f.WriteBytes([]byte(val)); err != nil {
			return err
		}
		return f.WriteBytes([]byte{'\n'})
	case data.Long:
		return f.WriteLine("l" + strconv.FormatInt(int64(val), 10))
	case data.Double:
		return f.WriteLine("f" + strconv.FormatFloat(float64(val), 'g', -1, 64))
	case data.Bool:
		if val {
			return f.WriteLine("btrue")
		}
		return f.WriteLine("bfalse")
	case data.Date:
		return f.WriteLine("d" + FormatDate(val))
	case data.Name:
		return f.WriteLine("n" + string(val))
	case data.Path:
		return f.WriteLine("p" + string(val))
	case data.Reference:
		return f.WriteLine("r" + val.Target().String())
	default:
		return capsuled.ErrProtocol.New("illegal value %s", data.Repr(v))
	}
}

// ReadValue reads one typed value. It returns (nil, nil) on the bare
// "M" line that terminates a multi-value run.
func (f *Frame) ReadValue() (data.Value, error) {
	line, err := f.ReadLine()
	if err != nil {
		return nil, err
	}
	if line == "" {
		return nil, capsuled.ErrProtocol.New("empty value line")
	}
	if line == "M" {
		return nil, nil
	}
	tag, rest := line[0], line[1:]
	switch tag {
	case 's':
		b, err := f.readPayload(rest)
		if err != nil {
			return nil, err
		}
		return data.String(b), nil
	case 'x':
		b, err := f.readPayload(rest)
		if err != nil {
			return nil, err
		}
		return data.Blob(b), nil
	case 'l':
		n, err := strconv.ParseInt(rest, 10, 64)
		if err != nil {
			return nil, capsuled.ErrProtocol.New("bad long %q", rest)
		}
		return data.Long(n), nil
	case 'f':
		x, err := strconv.ParseFloat(rest, 64)
		if err != nil {
			return nil, capsuled.ErrProtocol.New("bad double %q", rest)
		}
		return data.Double(x), nil
	case 'd':
		return ParseDate(rest)
	case 'b':
		switch rest {
		case "true":
			return data.Bool(true), nil
		case "false":
			return data.Bool(false), nil
		}
		return nil, capsuled.ErrProtocol.New("bad boolean %q", line)
	case 'n':
		return data.Name(rest), nil
	case 'p':
		return data.Path(rest), nil
	case 'r':
		return data.Reference(rest), nil
	}
	return nil, capsuled.ErrProtocol.New("unknown value tag %q", line)
}

func (f *Frame) readPayload(lenstr string) ([]byte, error) {
	n, err := strconv.Atoi(lenstr)
	if err != nil || n < 0 {
		return nil, capsuled.ErrProtocol.New("bad length %q", lenstr)
	}
	b, err := f.ReadFull(n)
	if err != nil {
		return nil, err
	}
	if err := f.expectTerminator(); err != nil {
		return nil, err
	}
	return b, nil
}

// Prop is one named property in a state block or mutation command.
// A nil Value inside a Modify means deletion.
type Prop struct {
	Name  string
	Value data.Value
}

// WriteProp emits one property: a delete marker, a multi-value run or
// a single value.
func (f *Frame) WriteProp(p Prop, allowNil bool) error {
	if p.Value == nil {
		if !allowNil {
			return capsuled.ErrProtocol.New("cannot send nil property %q", p.Name)
		}
		return f.WriteLine("D" + p.Name)
	}
	if multi, ok := p.Value.(data.Multi); ok {
		if err := f.WriteLine("M" + p.Name); err != nil {
			return err
		}
		for _, v := range multi {
			if err := f.WriteValue(v); err != nil {
				return err
			}
		}
		return f.WriteLine("M")
	}
	if err := f.WriteLine("P" + p.Name); err != nil {
		return err
	}
	return f.WriteValue(p.Value)
}

// ReadMulti reads values until the terminating "M" line.
func (f *Frame) ReadMulti() (data.Multi, error) {
	values := data.Multi{}
	for {
		v, err := f.ReadValue()
		if err != nil {
			return nil, err
		}
		if v == nil {
			return values, nil
		}
		values = append(values, v)
	}
}

// IsErrorLine reports whether a reply line carries a server error.
func IsErrorLine(line string) bool {
	return strings.HasPrefix(line, "!")
}
