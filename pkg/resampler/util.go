package resampler

import "math"

func calculateTriangleArea(paX, paY, pbX, pbY, pcX, pcY float64) float64 {
	area := ((paX-pcX)*(pbY-paY) - (paX-pbX)*(pcY-paY)) * 0.5
	return math.Abs(area)
}

func calculateAverageDataPoint(points []float64, xStart int64) (avgX float64, avgY float64) {
	flag := 0
	for _, point := range points {
		avgX += float64(xStart)
		avgY += point
		xStart++
		if math.IsNaN(point) {
			flag = 1
		}
	}

	l := float64(len(points))

	avgX /= l
	avgY /= l

	if flag == 1 {
		return avgX, math.NaN()
	}
	return avgX, avgY
}
