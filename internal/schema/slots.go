package schema

// Document schemas for each slot type. Field names double as the dot-path
// vocabulary that module output targets are validated against.

var identiteSpec = Object(map[string]*Spec{
	"archetype": Enum("createur",
		"createur", "sage", "explorateur", "heros", "magicien",
		"amoureux", "protecteur", "souverain", "innocent", "rebelle",
		"enchanteur", "homme_ordinaire"),
	"essence":         String(""),
	"mission":         String(""),
	"vision":          String(""),
	"valeurs":         Strings(),
	"personnalite":    Strings(),
	"promesse":        String(""),
	"preuves":         Strings(),
	"histoire":        String(""),
	"style_keywords":  Strings(),
	"symboles":        Strings(),
	"anti_valeurs":    Strings(),
	"niveau_maturite": Enum("emergente", "emergente", "etablie", "referente"),
	"score_coherence": Number(0),
	"tagline":         String(""),
	"manifesto":       String(""),
})

var positionnementSpec = Object(map[string]*Spec{
	"statement":        String(""),
	"categorie":        String(""),
	"cible_resume":     String(""),
	"benefice_cle":     String(""),
	"differenciateurs": Strings(),
	"price_tier":       Enum("standard", "entree", "standard", "premium", "luxe"),
	"concurrents": Array(Object(map[string]*Spec{
		"nom":            String(""),
		"positionnement": String(""),
		"forces":         Strings(),
		"faiblesses":     Strings(),
	})),
	"territoires":   Strings(),
	"angle_attaque": String(""),
})

var audienceSpec = Object(map[string]*Spec{
	"segment_principal": String(""),
	"personas": Array(Object(map[string]*Spec{
		"nom":         String(""),
		"age":         Number(0),
		"profession":  String(""),
		"motivations": Strings(),
		"freins":      Strings(),
		"canaux":      Strings(),
	})),
	"pain_points":    Strings(),
	"gains_attendus": Strings(),
	"taille_marche":  String(""),
	"insights":       Strings(),
})

var tonaliteSpec = Object(map[string]*Spec{
	"registre":    Enum("professionnel", "professionnel", "familier", "soutenu", "inspirant"),
	"traits":      Strings(),
	"do":          Strings(),
	"dont":        Strings(),
	"vocabulaire": Strings(),
	"exemples": Array(Object(map[string]*Spec{
		"contexte": String(""),
		"avant":    String(""),
		"apres":    String(""),
	})),
	"emojis_permis": Bool(false),
	"signature":     String(""),
})

// auditSpec serves both the rational (audit_r) and tonal (audit_t) audits;
// the two slots share a shape and differ only in what modules write into them.
var auditSpec = Object(map[string]*Spec{
	"score_global": Number(0),
	"scores": Object(map[string]*Spec{
		"clarte":          Number(0),
		"coherence":       Number(0),
		"differenciation": Number(0),
		"memorabilite":    Number(0),
	}),
	"constats": Array(Object(map[string]*Spec{
		"titre":    String(""),
		"detail":   String(""),
		"severite": Enum("info", "info", "mineur", "majeur", "critique"),
	})),
	"recommandations": Strings(),
	"points_forts":    Strings(),
	"points_faibles":  Strings(),
	"synthese":        String(""),
	"statut":          Enum("brouillon", "brouillon", "revu", "valide"),
})

var implementationSpec = Object(map[string]*Spec{
	"priorites": Strings(),
	"actions": Array(Object(map[string]*Spec{
		"titre":   String(""),
		"canal":   String(""),
		"horizon": Enum("court", "court", "moyen", "long"),
		"effort":  Number(0),
		"impact":  Number(0),
		"statut":  Enum("a_faire", "a_faire", "en_cours", "fait"),
	})),
	"jalons": Array(Object(map[string]*Spec{
		"nom":       String(""),
		"echeance":  String(""),
		"livrables": Strings(),
	})),
	"canaux":      Strings(),
	"budget_note": String(""),
	"risques":     Strings(),
})

var cockpitSpec = Object(map[string]*Spec{
	"kpis": Array(Object(map[string]*Spec{
		"nom":      String(""),
		"valeur":   Number(0),
		"cible":    Number(0),
		"unite":    String(""),
		"tendance": Enum("stable", "hausse", "stable", "baisse"),
	})),
	"cadence_revue": Enum("mensuelle", "hebdomadaire", "mensuelle", "trimestrielle"),
	"alertes":       Strings(),
	"decisions":     Strings(),
	"notes":         String(""),
	"sante_globale": Number(0),
})
