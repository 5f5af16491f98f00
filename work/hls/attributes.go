package hls

import (
	"strings"
)

type attribute struct {
	key    string
	value  string
	quoted bool
}

// attributeList is an EXT-X-MEDIA attribute list in its original order.
type attributeList struct {
	attrs []attribute
}

// parseAttributes reads KEY=VALUE pairs. Quoted values may contain commas.
// Keys are uppercased; values are trimmed.
func parseAttributes(s string) *attributeList {
	l := &attributeList{}
	for i := 0; i < len(s); {
		for i < len(s) && (s[i] == ',' || s[i] == ' ' || s[i] == '\t') {
			i++
		}
		if i >= len(s) {
			break
		}

		eq := strings.IndexByte(s[i:], '=')
		if eq < 0 {
			break
		}
		key := strings.ToUpper(strings.TrimSpace(s[i : i+eq]))
		i += eq + 1

		var a attribute
		a.key = key
		if i < len(s) && s[i] == '"' {
			end := strings.IndexByte(s[i+1:], '"')
			if end < 0 {
				a.value = s[i+1:]
				i = len(s)
			} else {
				a.value = s[i+1 : i+1+end]
				i += end + 2
			}
			a.quoted = true
		} else {
			end := strings.IndexByte(s[i:], ',')
			if end < 0 {
				end = len(s) - i
			}
			a.value = s[i : i+end]
			i += end
		}
		a.value = strings.TrimSpace(a.value)
		if key != "" {
			l.attrs = append(l.attrs, a)
		}
	}
	return l
}

// Get returns the value of key; missing keys read as "".
func (l *attributeList) Get(key string) (string, bool) {
	for _, a := range l.attrs {
		if a.key == key {
			return a.value, true
		}
	}
	return "", false
}

// Value is Get without the presence flag.
func (l *attributeList) Value(key string) string {
	v, _ := l.Get(key)
	return v
}

// Set replaces the value of key, keeping its position and quoting. New keys
// are appended. Enumerated YES/NO attributes are always written unquoted.
func (l *attributeList) Set(key, value string) {
	enumerated := key == "DEFAULT" || key == "AUTOSELECT" || key == "FORCED"
	for i := range l.attrs {
		if l.attrs[i].key == key {
			l.attrs[i].value = value
			if enumerated {
				l.attrs[i].quoted = false
			}
			return
		}
	}
	l.attrs = append(l.attrs, attribute{key: key, value: value, quoted: !enumerated})
}

func (l *attributeList) String() string {
	var b strings.Builder
	for i, a := range l.attrs {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(a.key)
		b.WriteByte('=')
		if a.quoted {
			b.WriteByte('"')
			b.WriteString(a.value)
			b.WriteByte('"')
		} else {
			b.WriteString(a.value)
		}
	}
	return b.String()
}
