package rag

import (
	"fmt"
	"strings"
)

// Language selects the prompt and context templates.
type Language string

const (
	LanguageEnglish Language = "en"
	LanguageRussian Language = "ru"
)

// ParseLanguage accepts "en" or "ru"; empty means English.
func ParseLanguage(s string) (Language, error) {
	switch Language(strings.ToLower(strings.TrimSpace(s))) {
	case "", LanguageEnglish:
		return LanguageEnglish, nil
	case LanguageRussian:
		return LanguageRussian, nil
	}
	return LanguageEnglish, fmt.Errorf("unsupported prompt language %q", s)
}

// Prompts is the set of texts the engine sends to, or returns instead of, the LLM.
type Prompts struct {
	// NoResults is answered when nothing passes the similarity threshold.
	NoResults string
	// System constrains answers to the supplied context.
	System string
	// ContextHeader opens the context block.
	ContextHeader string
	// DocumentEntry is formatted with index, similarity percentage, source and content.
	DocumentEntry string
	// UnknownSource replaces a missing "source" metadata value.
	UnknownSource string
	// GraphSummary is formatted with the number of graph rows found.
	GraphSummary string
	// User is formatted with the context block and the question.
	User string
	// StrictExtraction is appended to extraction system prompts.
	StrictExtraction string
}

var prompts = map[Language]Prompts{
	LanguageEnglish: {
		NoResults: "Unfortunately, I could not find relevant information in the knowledge base to answer your question.",
		System: `You are a helpful assistant answering questions from a knowledge base.
Answer ONLY from the provided context.
If the context does not contain the answer, say so honestly.
Answer clearly and to the point.`,
		ContextHeader: "Knowledge base context:\n",
		DocumentEntry: "\n[Document %d | Relevance: %s] (Source: %s):\n%s\n",
		UnknownSource: "unknown",
		GraphSummary:  "\n[Graph context]: Found %d related nodes in the knowledge graph.",
		User:          "%s\n\nQuestion: %s\n\nAnswer:",
		StrictExtraction: "\n\nCRITICAL: " +
			"Extract ONLY information that is EXPLICITLY and LITERALLY present in the provided text. " +
			"Do NOT use knowledge from your training data. " +
			"Do NOT add information that is not in the text. " +
			"Do NOT invent facts, events or relations. " +
			"If the information is absent from the text, do NOT extract it.",
	},
	LanguageRussian: {
		NoResults: "К сожалению, я не нашел релевантной информации в базе знаний для ответа на ваш вопрос.",
		System: `Ты - полезный ассистент для ответов на вопросы по базе знаний.
Отвечай ТОЛЬКО на основе предоставленного контекста.
Если в контексте нет информации для ответа, честно скажи об этом.
Отвечай на русском языке, четко и по существу.`,
		ContextHeader: "Контекст из базы знаний:\n",
		DocumentEntry: "\n[Документ %d | Релевантность: %s] (Источник: %s):\n%s\n",
		UnknownSource: "неизвестно",
		GraphSummary:  "\n[Графовый контекст]: Найдено %d связанных узлов в графе знаний.",
		User:          "%s\n\nВопрос: %s\n\nОтвет:",
		StrictExtraction: "\n\nКРИТИЧЕСКИ ВАЖНО: " +
			"Извлекайте ТОЛЬКО информацию, которая ЯВНО и ДОСЛОВНО присутствует в предоставленном тексте. " +
			"НЕ используйте ваши знания из обучающих данных. " +
			"НЕ добавляйте информацию, которой нет в тексте. " +
			"НЕ придумывайте факты, события или отношения. " +
			"Если информация отсутствует в тексте, НЕ извлекайте её.",
	},
}

// PromptsFor returns the templates for lang, falling back to English.
func PromptsFor(lang Language) Prompts {
	if p, ok := prompts[lang]; ok {
		return p
	}
	return prompts[LanguageEnglish]
}

// Percent renders a similarity in [0,1] as "87.65%".
func Percent(similarity float64) string {
	return fmt.Sprintf("%.2f%%", similarity*100)
}
