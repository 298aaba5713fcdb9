package main

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"

	"github.com/3s-rg-codes/apexrt/pkg/function"
	"github.com/3s-rg-codes/apexrt/pkg/harness"
)

type InputData struct {
	Image  []byte `json:"image" validate:"required"`
	Width  int    `json:"width" validate:"gt=0,lte=4096"`
	Height int    `json:"height" validate:"gt=0,lte=4096"`
}

type OutputData struct {
	Image  []byte `json:"image"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

func main() {
	function.Handle(handler, harness.WithValidation())
}

// Inspired by https://github.com/spcl/serverless-benchmarks/blob/master/benchmarks/200.multimedia/210.thumbnailer/python/function.py
func handler(input InputData, _ *harness.Context) (OutputData, error) {
	resized, err := resizeImage(input.Image, input.Width, input.Height)
	if err != nil {
		return OutputData{}, fmt.Errorf("resize failed: %w", err)
	}
	return OutputData{Image: resized, Width: input.Width, Height: input.Height}, nil
}

func resizeImage(input []byte, w, h int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(input))
	if err != nil {
		return nil, err
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)

	var out bytes.Buffer
	if err := jpeg.Encode(&out, dst, nil); err != nil {
		return nil, err
	}

	return out.Bytes(), nil
}
