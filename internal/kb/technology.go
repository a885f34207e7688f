package kb

import (
	"path"
	"regexp"
	"sort"
	"strings"
)

// technologyPatterns detect technologies from patch content
var technologyPatterns = map[string]*regexp.Regexp{
	// JavaScript/TypeScript frameworks
	"React":       regexp.MustCompile(`(?i)from\s+['"]react['"]|require\(['"]react['"]\)`),
	"Vue":         regexp.MustCompile(`(?i)from\s+['"]vue['"]`),
	"Svelte":      regexp.MustCompile(`(?i)from\s+['"]svelte`),
	"Angular":     regexp.MustCompile(`(?i)from\s+['"]@angular/core['"]`),
	"TailwindCSS": regexp.MustCompile(`(?i)tailwindcss|@tailwind`),
	"Vite":        regexp.MustCompile(`(?i)from\s+['"]vite['"]`),
	"Next.js":     regexp.MustCompile(`(?i)from\s+['"]next/`),
	"Express":     regexp.MustCompile(`(?i)require\(['"]express['"]\)|from\s+['"]express['"]`),

	// Python
	"FastAPI":    regexp.MustCompile(`(?i)from\s+fastapi\s+import|import\s+fastapi`),
	"Flask":      regexp.MustCompile(`(?i)from\s+flask\s+import|import\s+flask`),
	"Django":     regexp.MustCompile(`(?i)from\s+django[\s.]|import\s+django`),
	"Pandas":     regexp.MustCompile(`(?i)import\s+pandas`),
	"NumPy":      regexp.MustCompile(`(?i)import\s+numpy`),
	"PyTorch":    regexp.MustCompile(`(?i)import\s+torch`),
	"TensorFlow": regexp.MustCompile(`(?i)import\s+tensorflow`),
	"LangChain":  regexp.MustCompile(`(?i)(from|import)\s+langchain`),

	// Go ecosystem and RPC
	"gRPC":             regexp.MustCompile(`(?i)google\.golang\.org/grpc|import\s+grpc|@grpc/|\bgrpc\.(NewServer|Dial|NewClient)`),
	"Protocol Buffers": regexp.MustCompile(`(?m)^\+?\s*syntax\s*=\s*"proto[23]"`),

	// Cloud & DevOps
	"Docker":         regexp.MustCompile(`(?m)^\+?\s*FROM\s+\S+|docker-compose`),
	"GitHub Actions": regexp.MustCompile(`(?m)^\+?\s*on:\s+(push|pull_request)|^\+?\s*jobs:`),
	"Terraform":      regexp.MustCompile(`resource\s+"(aws|google|azurerm)_`),
	"Kubernetes":     regexp.MustCompile(`apiVersion:\s+apps/v1|kind:\s+Deployment`),

	// Databases
	"SQLAlchemy": regexp.MustCompile(`(?i)import\s+sqlalchemy|from\s+sqlalchemy`),
	"Prisma":     regexp.MustCompile(`(?i)@prisma/client`),
	"PostgreSQL": regexp.MustCompile(`(?i)postgres(ql)?://|psycopg2|jackc/pgx|lib/pq`),
	"MongoDB":    regexp.MustCompile(`(?i)mongodb(\+srv)?://|pymongo|mongo-driver`),
	"Redis":      regexp.MustCompile(`(?i)redis://|go-redis|import\s+redis`),

	"GraphQL": regexp.MustCompile(`(?i)from\s+['"]graphql['"]|type\s+Query\s*\{|type\s+Mutation\s*\{`),
}

// extensionTechnologies maps file extensions to the language they imply
var extensionTechnologies = map[string]string{
	".go":     "Go",
	".py":     "Python",
	".ts":     "TypeScript",
	".tsx":    "TypeScript",
	".js":     "JavaScript",
	".jsx":    "JavaScript",
	".rs":     "Rust",
	".java":   "Java",
	".kt":     "Kotlin",
	".rb":     "Ruby",
	".cs":     "C#",
	".cpp":    "C++",
	".cc":     "C++",
	".swift":  "Swift",
	".proto":  "Protocol Buffers",
	".tf":     "Terraform",
	".sql":    "SQL",
	".vue":    "Vue",
	".svelte": "Svelte",
}

// fileNameTechnologies maps well-known file names to a technology
var fileNameTechnologies = map[string]string{
	"Dockerfile":          "Docker",
	"docker-compose.yml":  "Docker",
	"docker-compose.yaml": "Docker",
	"go.mod":              "Go",
	"package.json":        "JavaScript",
	"Cargo.toml":          "Rust",
	"requirements.txt":    "Python",
	"pyproject.toml":      "Python",
}

// DetectTechnologies infers technology tags for a file from its path and patch.
// The result is sorted and free of duplicates.
func DetectTechnologies(filePath, patch string) []string {
	found := make(map[string]struct{})

	base := path.Base(filePath)
	if tech, ok := fileNameTechnologies[base]; ok {
		found[tech] = struct{}{}
	}
	if tech, ok := extensionTechnologies[strings.ToLower(path.Ext(base))]; ok {
		found[tech] = struct{}{}
	}
	if strings.HasPrefix(filePath, ".github/workflows/") {
		found["GitHub Actions"] = struct{}{}
	}

	if patch != "" {
		for tech, pattern := range technologyPatterns {
			if pattern.MatchString(patch) {
				found[tech] = struct{}{}
			}
		}
	}

	techs := make([]string, 0, len(found))
	for tech := range found {
		techs = append(techs, tech)
	}
	sort.Strings(techs)
	return techs
}

// KnownTechnologies returns every canonical technology name the detector can emit
func KnownTechnologies() []string {
	seen := make(map[string]struct{})
	for tech := range technologyPatterns {
		seen[tech] = struct{}{}
	}
	for _, tech := range extensionTechnologies {
		seen[tech] = struct{}{}
	}
	for _, tech := range fileNameTechnologies {
		seen[tech] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
