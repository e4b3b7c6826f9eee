package wire

// Record is one v1 reply record: a leaf path, its value rendered as text and, for TELL
// requests, its description.
type Record struct {
	Path  string
	Value string
	Doc   string
}

// AppendRecord appends path\0value\0 and, with withDoc, doc\0.
func AppendRecord(dst []byte, rec Record, withDoc bool) []byte {
	dst = AppendCString(dst, rec.Path)
	dst = AppendCString(dst, rec.Value)
	if withDoc {
		dst = AppendCString(dst, rec.Doc)
	}
	return dst
}

// DecodeRecords splits a v1 reply into records.
func DecodeRecords(b []byte, withDoc bool) ([]Record, error) {
	r := NewReader(b)
	var out []Record
	for r.Len() > 0 {
		var rec Record
		var err error
		if rec.Path, err = r.CString(); err != nil {
			return nil, err
		}
		if rec.Value, err = r.CString(); err != nil {
			return nil, err
		}
		if withDoc {
			if rec.Doc, err = r.CString(); err != nil {
				return nil, err
			}
		}
		out = append(out, rec)
	}
	return out, nil
}
