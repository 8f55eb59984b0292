// Copyright 2021 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sim

import (
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"log"
	"math"
	"net/http"

	"github.com/fogleman/gg"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Telemetry is the snapshot a debug image is rendered from.
type Telemetry struct {
	Pose        Pose
	OmegaR      float32
	OmegaL      float32
	CommandR    float32
	CommandL    float32
	Calibrating bool
	Aligning    bool
}

// Snapshotter is implemented by whatever is driving the rig, so the
// server package does not need to import drive/wheel directly.
type Snapshotter interface {
	Snapshot() Telemetry
}

const (
	imgWidth  = 640
	imgHeight = 480
	pxPerM    = 150
)

// Server serves a debug image of the rig's current pose and telemetry on
// /rig.jpg, rendered fresh on every request.
type Server struct {
	src Snapshotter
}

// NewServer builds a Server that renders src's latest Telemetry on demand.
func NewServer(src Snapshotter) *Server {
	return &Server{src: src}
}

// ListenAndServe registers the /rig.jpg handler and blocks serving HTTP
// on addr (e.g. ":8080").
func (s *Server) ListenAndServe(addr string) error {
	http.Handle("/rig.jpg", http.HandlerFunc(s.handle))
	log.Printf("sim: starting debug server on %s", addr)
	server := &http.Server{Addr: addr}
	return server.ListenAndServe()
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "image/jpeg")
	t := s.src.Snapshot()

	c := gg.NewContext(imgWidth, imgHeight)
	c.SetRGB(1, 1, 1)
	c.Clear()

	originX, originY := float64(imgWidth)/2, float64(imgHeight)/2
	px := originX + float64(t.Pose.X)*pxPerM
	py := originY - float64(t.Pose.Y)*pxPerM

	c.SetRGB(0.6, 0.6, 0.6)
	c.SetLineWidth(1)
	for gx := 0; gx < imgWidth; gx += pxPerM {
		c.DrawLine(float64(gx), 0, float64(gx), float64(imgHeight))
	}
	for gy := 0; gy < imgHeight; gy += pxPerM {
		c.DrawLine(0, float64(gy), float64(imgWidth), float64(gy))
	}
	c.Stroke()

	heading := float64(t.Pose.Theta)
	nose := 18.0
	nx := px + nose*math.Cos(heading)
	ny := py - nose*math.Sin(heading)

	c.SetRGB(0, 0, 1)
	c.SetLineWidth(3)
	c.DrawCircle(px, py, 10)
	c.Stroke()
	c.DrawLine(px, py, nx, ny)
	c.Stroke()

	img := c.Image()
	drawTelemetryText(img, t)

	if err := jpeg.Encode(w, img, nil); err != nil {
		log.Printf("sim: error writing debug image: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
	}
}

func drawTelemetryText(img image.Image, t Telemetry) {
	dst, ok := img.(draw.Image)
	if !ok {
		return
	}
	drawer := &font.Drawer{
		Dst:  dst,
		Src:  image.Black,
		Face: basicfont.Face7x13,
	}
	lines := []string{
		fmt.Sprintf("x=%.3f y=%.3f th=%.3f", t.Pose.X, t.Pose.Y, t.Pose.Theta),
		fmt.Sprintf("wR=%.2f wL=%.2f", t.OmegaR, t.OmegaL),
		fmt.Sprintf("uR=%+.2f uL=%+.2f", t.CommandR, t.CommandL),
		fmt.Sprintf("cal=%v align=%v", t.Calibrating, t.Aligning),
	}
	y := 16
	for _, line := range lines {
		drawer.Dot = fixed.P(8, y)
		drawer.DrawString(line)
		y += 14
	}
}
