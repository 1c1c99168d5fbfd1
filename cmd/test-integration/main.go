package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"brainprep/internal/dataset"
	"brainprep/internal/imaging"
	"brainprep/internal/mha"
	"brainprep/internal/pipeline"
	"brainprep/internal/registration"
	"brainprep/internal/watch"
)

// Edge length of the synthetic volumes. Small enough that registration with
// stride 1 finishes in seconds.
const side = 20

func main() {
	fmt.Println("🔍 Testing registration + watcher integration")

	work, err := os.MkdirTemp("", "brainprep-integration-")
	if err != nil {
		log.Fatal("Failed to create work directory:", err)
	}
	defer os.RemoveAll(work)

	study := filepath.Join(work, "study")
	atlasPath := filepath.Join(work, "atlas.mha")
	outputDir := filepath.Join(work, "output")

	if err := mha.Save(atlasPath, blob([3]float64{0, 0, 0}), false); err != nil {
		log.Fatal("Failed to write atlas:", err)
	}
	writeSubject(study, "sub-01", [3]float64{1.5, -1.0, 0.5})

	fmt.Println("✅ Synthetic study generated")

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	runner, err := pipeline.NewRunner(logger, pipeline.Options{
		AtlasPath: atlasPath,
		OutputDir: outputDir,
		Registration: registration.Params{
			MaxIterations: 500,
			Tolerance:     1e-7,
			SampleStride:  1,
		},
		SaveTransform: true,
	})
	if err != nil {
		log.Fatal("Failed to build runner:", err)
	}

	collector := dataset.NewCollector(study, []dataset.Role{dataset.RoleT1, dataset.RoleGroundTruth}, nil)
	subject, err := collector.Collect("sub-01")
	if err != nil {
		log.Fatal("Failed to collect subject:", err)
	}

	res := runner.ProcessSubject(context.Background(), subject)
	if res.Err != nil {
		log.Fatal("Subject processing failed:", res.Err)
	}

	fmt.Printf("📊 Registration result:\n")
	fmt.Printf("   Metric: %.6g\n", res.Metric)
	fmt.Printf("   Iterations: %d\n", res.Iterations)
	fmt.Printf("   Outputs: %d\n", len(res.Outputs))
	if res.TransformPath != "" {
		if t, err := registration.LoadTransform(res.TransformPath); err == nil {
			fmt.Printf("   Recovered translation: %.2f %.2f %.2f (expected near 1.5 -1.0 0.5)\n",
				t.Translation[0], t.Translation[1], t.Translation[2])
		}
	}

	fmt.Println("\n🚀 Testing watch mode...")

	watcher, err := watch.New(study, 2*time.Second, logger)
	if err != nil {
		log.Fatal("Failed to create watcher:", err)
	}
	if err := watcher.Start(); err != nil {
		log.Fatal("Failed to start watcher:", err)
	}
	defer watcher.Stop()

	writeSubject(study, "sub-02", [3]float64{-1.0, 0.5, 1.0})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	select {
	case <-ctx.Done():
		log.Fatal("Timed out waiting for the watcher")
	case ev := <-watcher.Events:
		fmt.Printf("📸 Subject settled: %s\n", ev.Subject)
		watched, err := collector.Collect(ev.Subject)
		if err != nil {
			log.Fatal("Failed to collect watched subject:", err)
		}
		res := runner.ProcessSubject(ctx, watched)
		if res.Err != nil {
			log.Fatal("Watched subject failed:", res.Err)
		}
		fmt.Printf("✅ Watched subject processed (%d outputs in %s)\n",
			len(res.Outputs), res.Duration.Round(time.Millisecond))
	}

	fmt.Println("\n✅ Integration test completed")
}

// blob builds a scan with a Gaussian intensity blob displaced from the
// volume center, so registration has a real offset to recover.
func blob(offset [3]float64) *imaging.Image {
	samples := make([]float64, side*side*side)
	c := float64(side-1) / 2
	i := 0
	for z := 0; z < side; z++ {
		for y := 0; y < side; y++ {
			for x := 0; x < side; x++ {
				dx := float64(x) - c - offset[0]
				dy := float64(y) - c - offset[1]
				dz := float64(z) - c - offset[2]
				samples[i] = 1000 * math.Exp(-(dx*dx+dy*dy+dz*dz)/(2*4.0*4.0))
				i++
			}
		}
	}
	img, err := imaging.New([3]int{side, side, side}, imaging.Float32, imaging.DefaultGeometry(), samples)
	if err != nil {
		log.Fatal("Failed to build volume:", err)
	}
	return img
}

func labels() *imaging.Image {
	samples := make([]float64, side*side*side)
	i := 0
	for z := 0; z < side; z++ {
		for y := 0; y < side; y++ {
			for x := 0; x < side; x++ {
				if x >= 8 && x < 12 && y >= 8 && y < 12 && z >= 8 && z < 12 {
					samples[i] = 7
				}
				i++
			}
		}
	}
	img, err := imaging.New([3]int{side, side, side}, imaging.UInt8, imaging.DefaultGeometry(), samples)
	if err != nil {
		log.Fatal("Failed to build labels:", err)
	}
	return img
}

func writeSubject(study, id string, offset [3]float64) {
	dir := filepath.Join(study, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Fatal("Failed to create subject directory:", err)
	}
	if err := mha.Save(filepath.Join(dir, "T1native.mha"), blob(offset), false); err != nil {
		log.Fatal("Failed to write scan:", err)
	}
	if err := mha.Save(filepath.Join(dir, "labels_native.mha"), labels(), false); err != nil {
		log.Fatal("Failed to write labels:", err)
	}
}
