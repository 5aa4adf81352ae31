package probe

import (
	"fmt"
	"io"
	"strings"

	gomp4 "github.com/abema/go-mp4"
)

// boxes whose payload is too large or too dull to print.
var skipPayload = map[gomp4.BoxType]bool{
	gomp4.BoxTypeMdat(): true,
	gomp4.BoxTypeFree(): true,
	gomp4.BoxTypeSkip(): true,
}

// Dump writes the box tree of r to w, one box per line, indented by depth.
// Boxes known to the parser are followed by their decoded fields.
func Dump(r io.ReadSeeker, w io.Writer) error {
	_, err := gomp4.ReadBoxStructure(r, func(h *gomp4.ReadHandle) (interface{}, error) {
		indent := strings.Repeat("  ", len(h.Path)-1)
		line := fmt.Sprintf("%s%s size=%d offset=%d", indent, h.BoxInfo.Type, h.BoxInfo.Size, h.BoxInfo.Offset)

		expand := false
		if h.BoxInfo.IsSupportedType() && !skipPayload[h.BoxInfo.Type] {
			box, _, err := h.ReadPayload()
			if err == nil {
				if s, err := gomp4.Stringify(box, h.BoxInfo.Context); err == nil && s != "" {
					line += " " + s
				}
				expand = true
			} else {
				line += " (unparsed)"
			}
		}

		if _, err := fmt.Fprintln(w, line); err != nil {
			return nil, err
		}
		if expand {
			return h.Expand()
		}
		return nil, nil
	})
	return err
}
