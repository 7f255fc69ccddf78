package domain

// Document is one slide or page of HTML.
type Document struct {
	ID   string `json:"id"`
	HTML string `json:"html"`
}

// SlideType is the coarse layout class of a slide.
type SlideType string

const (
	SlideTypeData       SlideType = "data"
	SlideTypeTitle      SlideType = "title"
	SlideTypeList       SlideType = "list"
	SlideTypeContent    SlideType = "content"
	SlideTypeConclusion SlideType = "conclusion"
	SlideTypeGeneral    SlideType = "general"
)

// ImageReference describes one <img> element and what it is about.
type ImageReference struct {
	OriginalSrc     string    `json:"original_src"`
	AltText         string    `json:"alt_text"`
	SurroundingText string    `json:"surrounding_text"`
	SectionHeading  string    `json:"section_heading"`
	SlideTopic      string    `json:"slide_topic"`
	SlideType       SlideType `json:"slide_type"`
	PositionIndex   int       `json:"position_index"`
	Topic           string    `json:"topic"`
}

// Heading is one h1-h6 element.
type Heading struct {
	Level int    `json:"level"`
	Text  string `json:"text"`
}

// ListBlock is one ul or ol element.
type ListBlock struct {
	Ordered bool     `json:"ordered"`
	Items   []string `json:"items"`
}

// SlideContext is the document-level analysis used for topic inference.
type SlideContext struct {
	Keywords        []string    `json:"keywords"`
	SlideType       SlideType   `json:"slide_type"`
	Headings        []Heading   `json:"headings"`
	Lists           []ListBlock `json:"lists"`
	TextDensity     float64     `json:"text_density"`
	WordCount       int         `json:"word_count"`
	MainTopic       string      `json:"main_topic"`
	HasDataElements bool        `json:"has_data_elements"`
}

// Summary renders the context as short prose for a suggestion prompt.
func (c SlideContext) Summary() string {
	s := "Slide type: " + string(c.SlideType)
	if c.MainTopic != "" {
		s += ". Main topic: " + c.MainTopic
	}
	if len(c.Keywords) > 0 {
		n := len(c.Keywords)
		if n > 5 {
			n = 5
		}
		s += ". Key terms: "
		for i, k := range c.Keywords[:n] {
			if i > 0 {
				s += ", "
			}
			s += k
		}
	}
	return s
}
