package model

import "fmt"

// OptionsPerQuestion is the fixed number of choices of every question.
const OptionsPerQuestion = 4

// Question is a multiple-choice question produced by the generator.
type Question struct {
	Question           string   `json:"question" bson:"question"`
	Options            []string `json:"options" bson:"options"`
	CorrectAnswerIndex int      `json:"correctAnswerIndex" bson:"correctAnswerIndex"`
}

func (q Question) Validate() error {
	if q.Question == "" {
		return fmt.Errorf("question text is empty")
	}
	if len(q.Options) != OptionsPerQuestion {
		return fmt.Errorf("question %q has %d options, want %d", q.Question, len(q.Options), OptionsPerQuestion)
	}
	if q.CorrectAnswerIndex < 0 || q.CorrectAnswerIndex >= OptionsPerQuestion {
		return fmt.Errorf("question %q has correct index %d out of range", q.Question, q.CorrectAnswerIndex)
	}
	return nil
}

// GenerationRequest asks the question generator for a quiz.
type GenerationRequest struct {
	Topic      string `json:"topic"`
	Difficulty string `json:"difficulty"`
	Count      int    `json:"count"`
}
