package engine

import (
	"math"

	"soilguard/internal/model"
	"soilguard/internal/thresholds"
)

// InvalidReadingSuggestion is returned for NaN values, where neither
// direction applies.
const InvalidReadingSuggestion = `Leitura inválida. Sugestão:
- Verifique a conexão e a calibração do sensor antes de intervir no solo.`

type remedy struct {
	below string
	above string
}

var remedies = map[model.Metric]remedy{
	model.MetricSoilHumidity: {
		below: `Umidade muito baixa. Sugestão:
- **Palhada vegetal**: espalhe 2–3 kg/m² de restos de capim, folhas secas ou palha.
- **Cobertura morta com jornal**: coloque camadas de jornal úmido entre as plantas.`,
		above: `Umidade muito alta. Sugestão:
- **Sulcos de escoamento**: faça pequenos drenos ou valetas.
- **Levarecimento**: adicione 0,5–1 kg/m² de areia grossa.`,
	},
	model.MetricTemperature: {
		below: `Temperatura muito baixa. Sugestão:
- **Cobertura escura**: estenda lona preta ou plástico escuro nas madrugadas.
- **Adubação verde**: semeie leguminosas de cobertura como feijão-de-porco.`,
		above: `Temperatura muito alta. Sugestão:
- **Cobertura clara**: utilize tecido branco para refletir radiação.
- **Irrigação de superfície**: borrife água pela manhã para resfriar.`,
	},
	model.MetricConductivity: {
		below: `Condutividade muito baixa. Sugestão:
- **Chá de composto**: ferva 500g de resíduos em 10L de água, coe e aplique 5L/m².`,
		above: `Condutividade muito alta. Sugestão:
- **Lavagem de solo**: irrigue com 20–30 mm de água e deixe drenar.
- **Matéria orgânica**: aplique 3–5 kg/m² de composto.`,
	},
	model.MetricPH: {
		below: `Solo muito ácido. Sugestão:
- **Casca de ovo moída** (100–200g/m²): espalhe e incorpore superficialmente.`,
		above: `Solo muito alcalino. Sugestão:
- **Borra de café** (500g) + **vinagre** (100 mL diluído): incorpore e regue.`,
	},
	model.MetricNitrogen: {
		below: `Deficiência de Nitrogênio. Sugestão:
- **Borra de café** (1 kg/m²): espalhe e incorpore a 5 cm de profundidade.`,
		above: `Excesso de Nitrogênio. Sugestão:
- Use carvão vegetal (500g/m²): espalhe pela área, incorpore ao plantio e depois remova o excesso.`,
	},
	model.MetricPhosphorus: {
		below: `Deficiência de Fósforo. Sugestão:
- **Farinha de osso caseira** (200g/m²): ossos limpos, secos e moídos.`,
		above: `Excesso de Fósforo. Sugestão:
- Reduza adubações e promova **rotação de culturas** com leguminosas.`,
	},
	model.MetricPotassium: {
		below: `Deficiência de Potássio. Sugestão:
- **Casca de banana triturada** (1 kg/m²): distribua e cubra com palha.`,
		above: `Excesso de Potássio. Sugestão:
- **Irrigação profunda** (20–30 mm) + adição de matéria orgânica (5 kg/m²).`,
	},
}

// Suggest returns the remediation text for a classified value. Ok levels and
// metrics without a band yield no suggestion. The direction comes from the
// same ideal band Classify uses; a value inside the band with a non-Ok level
// falls back to the band midpoint.
func Suggest(table *thresholds.Table, metric model.Metric, value float64, level model.Severity) (string, bool) {
	if level == model.SeverityOk {
		return "", false
	}
	r, ok := remedies[metric]
	if !ok {
		return "", false
	}
	band, ok := table.Band(metric)
	if !ok {
		return "", false
	}
	if math.IsNaN(value) {
		return InvalidReadingSuggestion, true
	}
	switch {
	case value < band.Ideal.Lo():
		return r.below, true
	case value > band.Ideal.Hi():
		return r.above, true
	case value < band.Ideal.Mid():
		return r.below, true
	default:
		return r.above, true
	}
}
