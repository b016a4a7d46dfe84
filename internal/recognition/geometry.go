package recognition

// relativeArea returns the share of the frame covered by a pixel bbox [x1, y1, x2, y2].
func relativeArea(bbox []float64, width, height int) float64 {
	rel := toRelative(bbox, width, height)
	if len(rel) != 4 {
		return 0
	}
	w := rel[2] - rel[0]
	h := rel[3] - rel[1]
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// toRelative converts a pixel bbox to relative (0-1) coordinates.
func toRelative(bbox []float64, width, height int) []float64 {
	if len(bbox) != 4 || width <= 0 || height <= 0 {
		return nil
	}
	return []float64{
		bbox[0] / float64(width),
		bbox[1] / float64(height),
		bbox[2] / float64(width),
		bbox[3] / float64(height),
	}
}

// computeIoU calculates Intersection over Union between two bounding boxes.
func computeIoU(bbox1, bbox2 []float64) float64 {
	if len(bbox1) != 4 || len(bbox2) != 4 {
		return 0
	}

	x1 := max(bbox1[0], bbox2[0])
	y1 := max(bbox1[1], bbox2[1])
	x2 := min(bbox1[2], bbox2[2])
	y2 := min(bbox1[3], bbox2[3])

	if x2 <= x1 || y2 <= y1 {
		return 0
	}

	intersection := (x2 - x1) * (y2 - y1)
	area1 := (bbox1[2] - bbox1[0]) * (bbox1[3] - bbox1[1])
	area2 := (bbox2[2] - bbox2[0]) * (bbox2[3] - bbox2[1])
	union := area1 + area2 - intersection
	if union <= 0 {
		return 0
	}

	return intersection / union
}
