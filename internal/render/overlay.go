package render

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// Overlay is a rendered canvas. It owns native memory and must be closed.
type Overlay struct {
	mat    gocv.Mat
	hand   bool
	mirror bool
	closed bool
}

// HasHand reports whether a hand skeleton was drawn.
func (o *Overlay) HasHand() bool {
	return o.hand
}

// Size returns the canvas dimensions.
func (o *Overlay) Size() image.Point {
	if o.Empty() {
		return image.Point{}
	}
	return image.Pt(o.mat.Cols(), o.mat.Rows())
}

// Empty reports whether the overlay holds no pixels.
func (o *Overlay) Empty() bool {
	return o.closed || o.mat.Empty()
}

// At returns the BGR pixel at (x, y).
func (o *Overlay) At(x, y int) [3]uint8 {
	v := o.mat.GetVecbAt(y, x)
	return [3]uint8{v[0], v[1], v[2]}
}

// Encode returns the display image as JPEG, mirrored when configured.
func (o *Overlay) Encode() ([]byte, error) {
	if o.Empty() {
		return nil, &RenderError{Stage: "encode", Err: fmt.Errorf("empty overlay")}
	}

	src := o.mat
	if o.mirror {
		flipped := gocv.NewMat()
		defer flipped.Close()
		gocv.Flip(o.mat, &flipped, 1)
		src = flipped
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, src)
	if err != nil {
		return nil, &RenderError{Stage: "encode", Err: err}
	}
	defer buf.Close()

	return append([]byte(nil), buf.GetBytes()...), nil
}

// Close releases the canvas. It is safe to call more than once.
func (o *Overlay) Close() error {
	if o.closed {
		return nil
	}
	o.closed = true
	return o.mat.Close()
}
