package normalize

import (
	"strings"

	"github.com/sells-group/takeoff/internal/model"
	"github.com/sells-group/takeoff/internal/textutil"
)

type disciplineRule struct {
	discipline model.Discipline
	prefixes   []string // exact first token of the layer name
	keywords   []string // substrings anywhere in the layer name
}

// Order matters: the first matching rule wins.
var disciplineRules = []disciplineRule{
	{
		discipline: model.DisciplineElectrical,
		prefixes:   []string{"e", "el", "elec", "ie", "ilu"},
		keywords:   []string{"electr", "enchuf", "ilumin", "lumin", "tomacorr", "interrupt", "socket", "light", "tablero"},
	},
	{
		discipline: model.DisciplineSanitary,
		prefixes:   []string{"san", "ap", "apf", "apc", "alc", "p", "pl"},
		keywords:   []string{"sanit", "agua", "alcantar", "desag", "plumb", "inodoro", "lavamanos", "artefacto"},
	},
	{
		discipline: model.DisciplineStructure,
		prefixes:   []string{"est", "str", "s"},
		keywords:   []string{"estruct", "hormig", "viga", "column", "pilar", "losa", "fundac", "struct", "beam"},
	},
	{
		discipline: model.DisciplineMechanical,
		prefixes:   []string{"m", "mec", "hvac", "cl", "clim"},
		keywords:   []string{"clima", "ventil", "ducto", "duct", "hvac", "extracc"},
	},
	{
		discipline: model.DisciplineArchitecture,
		prefixes:   []string{"a", "ar", "arq", "fa"},
		keywords:   []string{"arq", "muro", "tabiq", "piso", "puerta", "ventan", "cielo", "wall", "door", "floor", "pavim", "revest"},
	},
}

// InferDiscipline tags a layer with its trade from prefix conventions
// ("E-ENCHUFES", "ARQ_MUROS") or keywords in the name.
func InferDiscipline(layer string) model.Discipline {
	norm := textutil.Normalize(layer)
	if norm == "" {
		return model.DisciplineUnknown
	}
	first := strings.Fields(norm)[0]
	for _, r := range disciplineRules {
		for _, p := range r.prefixes {
			if first == p {
				return r.discipline
			}
		}
	}
	for _, r := range disciplineRules {
		for _, k := range r.keywords {
			if strings.Contains(norm, k) {
				return r.discipline
			}
		}
	}
	return model.DisciplineUnknown
}
